package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(orderRules, OrderRequest{})
	return v
}

// orderRules enforces the per-action required fields.
func orderRules(sl validator.StructLevel) {
	o := sl.Current().Interface().(OrderRequest)
	if o.isClose() {
		if o.PositionID == "" {
			sl.ReportError(o.PositionID, "position_id", "PositionID", "required", "")
		}
		return
	}
	if o.AssetID == "" {
		sl.ReportError(o.AssetID, "asset_id", "AssetID", "required", "")
	}
	if o.Amount <= 0 {
		sl.ReportError(o.Amount, "amount", "Amount", "gt", "0")
	}
}

type normalizer interface{ normalize() }

// decodeAndValidate reads a JSON body into req, fills defaults and validates.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) []ValidationError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return []ValidationError{{Code: "ERR_BAD_JSON", Message: err.Error()}}
	}
	if n, ok := req.(normalizer); ok {
		n.normalize()
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(r.Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := make([]ValidationError, 0, len(ve))
		for _, fe := range ve {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: errorMessage(fe),
			})
		}
		return out
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
