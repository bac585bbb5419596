package util

import (
	"encoding/json"
	"fmt"
)

// PrintPrettyJSON prints v as indented JSON on stdout.
func PrintPrettyJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
