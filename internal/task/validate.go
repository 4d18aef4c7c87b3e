package task

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

var structValidator = validator.New()

// Validate checks struct-tag constraints on the task. The CN cookie
// requirement is not checked here: the executor enforces it at cookie
// resolution, and only when cookie injection is enabled.
func Validate(t domain.Task) error {
	if err := structValidator.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
