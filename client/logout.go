package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mahaj/groupchat/pkg/storage"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved name without opening the chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return errors.Wrap(err, "open local state")
		}
		defer store.Close()

		name, ok, err := store.Get(storage.KeyEmail)
		if err != nil {
			return err
		}
		for _, k := range []string{storage.KeyEmail, storage.KeyName} {
			if err := store.Delete(k); err != nil {
				return err
			}
		}
		if ok {
			fmt.Printf("Logged out %s.\n", name)
		} else {
			fmt.Println("Nobody was logged in.")
		}
		return nil
	},
}
