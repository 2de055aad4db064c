package handlers

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/whiteboard/pkg/errors"
	"github.com/charlesng35/whiteboard/pkg/response"
	appValidator "github.com/charlesng35/whiteboard/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewValidation("invalid JSON payload").WithInternal(err))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(appValidator.Message(err)).WithInternal(err))
		return false
	}

	return true
}
