package zen

import (
	"errors"
	"sort"

	"github.com/queryzen/queryzen/internal/sqltemplate"
)

// MergeParameters returns the union of defaults and user, with user values
// taking precedence. Neither input is modified.
func MergeParameters(defaults, user map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(user))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged
}

// ValidateParameters compares params against the placeholders in query. Both
// the extra and the missing sets are computed in full; when both are non-empty
// the returned error joins a ParametersMismatchError and a
// MissingParametersError.
func ValidateParameters(query string, params map[string]any) error {
	required := sqltemplate.ParseParameters(query)
	requiredSet := make(map[string]struct{}, len(required))
	for _, name := range required {
		requiredSet[name] = struct{}{}
	}

	var extra []string
	for name := range params {
		if _, ok := requiredSet[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	var missing []string
	for _, name := range required {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}

	var errs []error
	if len(extra) > 0 {
		errs = append(errs, &ParametersMismatchError{Names: extra})
	}
	if len(missing) > 0 {
		errs = append(errs, &MissingParametersError{Names: missing})
	}
	return errors.Join(errs...)
}

// ResolveParameters merges defaults with user and validates the result
// against query.
func ResolveParameters(query string, defaults, user map[string]any) (map[string]any, error) {
	merged := MergeParameters(defaults, user)
	if err := ValidateParameters(query, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// ValidateDefaults rejects default parameters that name no placeholder and
// values that cannot be rendered.
func ValidateDefaults(query string, defaults map[string]any) error {
	if len(defaults) == 0 {
		return nil
	}
	err := ValidateParameters(query, defaults)
	var mismatch *ParametersMismatchError
	if errors.As(err, &mismatch) {
		return mismatch
	}
	return sqltemplate.ValidateValues(defaults)
}
