package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hyperengineering/decksync/internal/auth"
	"github.com/spf13/cobra"
)

var hashUser string

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password read from stdin for auth.users",
	Args:  cobra.NoArgs,
	RunE:  runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().StringVar(&hashUser, "user", "",
		"Print a user:hash entry for DECKSYNC_USERS")
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if hashUser != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", hashUser, hash)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
