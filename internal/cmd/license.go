package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psvtools/selfextract"
	"github.com/psvtools/selfextract/license"
)

func init() {
	rifCmd.Flags().AddFlagSet(&outputFlags)
	zrifCmd.Flags().AddFlagSet(&outputFlags)
	rootCmd.AddCommand(rifCmd)
	rootCmd.AddCommand(zrifCmd)
}

type licenseInfo struct {
	ContentID string
	Type      uint16
	AccountID selfextract.Hex64
	Klicensee selfextract.Hex
}

func describeLicense(rif *license.RIF) licenseInfo {
	return licenseInfo{
		ContentID: rif.ContentIDString(),
		Type:      rif.RIFType,
		AccountID: selfextract.Hex64(rif.AccountID),
		Klicensee: selfextract.Hex(rif.Klicensee[:]),
	}
}

var rifCmd = &cobra.Command{
	Use:   "rif [file...]",
	Short: "Inspect license token files",
	Run: func(cmd *cobra.Command, args []string) {
		for _, filename := range args {
			data, err := os.ReadFile(filename)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Unable to read license file: %v\n", err)
				os.Exit(2)
			}
			rif, err := license.ParseRIF(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid license token: %v\n", err)
				os.Exit(3)
			}
			printJSON(describeLicense(rif))
		}
	},
}

var zrifCmd = &cobra.Command{
	Use:   "zrif <string>",
	Short: "Decode a compact license string",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := license.DecodeZRIF(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid zrif string: %v\n", err)
			os.Exit(3)
		}
		rif, err := license.ParseRIF(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid license token: %v\n", err)
			os.Exit(3)
		}
		printJSON(describeLicense(rif))
	},
}
