package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func addressBookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "addressbook",
		Short: "Dump the selected bearer's address-validation book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := listAddressBook(cmd.Context())
			if err != nil {
				return fmt.Errorf("list address book: %w", err)
			}

			out, err := formatAddressBook(entries, outputFormat)
			if err != nil {
				return fmt.Errorf("format address book: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
