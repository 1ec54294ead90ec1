package archive

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ResultPath is results/<collection>/<name>/v<version>/<execution_id>.parquet.
func ResultPath(collection, name string, version int, executionID string) (string, error) {
	if err := validatePathComponent(collection, "collection"); err != nil {
		return "", err
	}
	if err := validatePathComponent(name, "zen name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(executionID, "execution id"); err != nil {
		return "", err
	}
	if version < 1 {
		return "", fmt.Errorf("version must be >= 1")
	}
	return path.Join(
		"results",
		collection,
		name,
		fmt.Sprintf("v%d", version),
		executionID+".parquet",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
