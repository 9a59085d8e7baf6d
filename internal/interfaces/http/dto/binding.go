package dto

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/storefront/integration/internal/domain/webhook"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("webhooksource", validSource)
	}
}

// validSource accepts only the sources the ingest surface routes.
func validSource(fl validator.FieldLevel) bool {
	return webhook.Source(fl.Field().String()).IsValid()
}
