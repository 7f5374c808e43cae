package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psvtools/selfextract"
	"github.com/psvtools/selfextract/keydb"
	"github.com/psvtools/selfextract/license"
)

var (
	convertOutput       string
	convertRIF          string
	convertZRIF         string
	convertKeyDB        string
	convertQuiet        bool
	convertIgnoreSysVer bool
)

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output ELF path, or \"null\" to discard")
	convertCmd.Flags().StringVarP(&convertRIF, "rif", "r", "", "license token file supplying the klicensee")
	convertCmd.Flags().StringVarP(&convertZRIF, "zrif", "z", "", "compact license string supplying the klicensee")
	convertCmd.Flags().StringVarP(&convertKeyDB, "keydb", "K", "keys.yaml", "key database path")
	convertCmd.Flags().BoolVarP(&convertQuiet, "quiet", "q", false, "suppress the conversion report")
	convertCmd.Flags().BoolVar(&convertIgnoreSysVer, "ignore-sysver", false, "ignore the firmware version during key lookup")
	convertCmd.Flags().AddFlagSet(&outputFlags)
	convertCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(convertCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert <self>",
	Short: "Decrypt and decompress a SELF container into an ELF image",
	Long: "Decrypt and decompress a SELF container into an ELF image.\n\n" +
		"Encrypted containers need a key database; a missing database file is\n" +
		"only an error once an encrypted container is actually met.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open input: %v\n", err)
			os.Exit(2)
		}
		defer input.Close()

		outPath := convertOutput
		if outPath == "null" {
			outPath = os.DevNull
		}
		output, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to create output: %v\n", err)
			os.Exit(2)
		}
		defer output.Close()

		opts := selfextract.Options{
			IgnoreSysVersion: convertIgnoreSysVer,
		}

		store, err := keydb.Load(convertKeyDB)
		switch {
		case err == nil:
			opts.Keys = &keydb.Resolver{Store: store}
		case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("keydb"):
			// No database next to the tool: plaintext containers still work.
		default:
			fmt.Fprintf(os.Stderr, "Unable to load key database: %v\n", err)
			os.Exit(2)
		}

		if rif := loadLicense(); rif != nil {
			opts.Klicensee = rif.Klicensee
		}

		report, err := selfextract.Convert(input, output, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Conversion failed: %v\n", err)
			os.Exit(3)
		}

		if !convertQuiet {
			printJSON(report)
		}
	},
}

func loadLicense() *license.RIF {
	var data []byte
	var err error

	switch {
	case convertRIF != "":
		data, err = os.ReadFile(convertRIF)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to read license file: %v\n", err)
			os.Exit(2)
		}
	case convertZRIF != "":
		data, err = license.DecodeZRIF(convertZRIF)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid zrif string: %v\n", err)
			os.Exit(2)
		}
	default:
		return nil
	}

	rif, err := license.ParseRIF(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid license token: %v\n", err)
		os.Exit(2)
	}
	return rif
}
