package validate

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/courierhq/courier/internal/domain"
)

var v = validator.New(validator.WithRequiredStructEnabled())

func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrValidationMeta("malformed request body", map[string]string{"detail": err.Error()})
	}
	return nil
}

// Struct runs validator tags and folds failures into one validation error
// with a field->rule meta map.
func Struct(dst any) error {
	err := v.Struct(dst)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.ErrValidation("invalid request")
	}
	meta := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		meta[strings.ToLower(fe.Field())] = rule
	}
	return domain.ErrValidationMeta("invalid request", meta)
}
