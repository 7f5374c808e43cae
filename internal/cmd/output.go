package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/pflag"
)

var (
	outputFlags pflag.FlagSet
	compact     = outputFlags.BoolP("compact", "c", false, "disable pretty-printing of JSON output")
)

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	if !*compact {
		encoder.SetIndent("", "  ")
	}
	encoder.SetEscapeHTML(false)
	encoder.Encode(v)
}
