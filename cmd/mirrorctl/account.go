package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/remote-mirror/backend/internal/client"
)

type credentialFlags struct {
	connectionFlags
	username string
	password string
}

func parseCredentials(name string, args []string) (*credentialFlags, error) {
	var f credentialFlags
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.addFlags(fs, false)
	fs.StringVarP(&f.username, "username", "u", "", "account name")
	fs.StringVarP(&f.password, "password", "p", "", "account password")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.username == "" || f.password == "" {
		return nil, errors.New("--username and --password are required")
	}
	return &f, nil
}

func runRegister(ctx context.Context, args []string) error {
	f, err := parseCredentials("register", args)
	if err != nil {
		return err
	}

	id, err := client.Register(ctx, f.server, f.username, f.password)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runLogin(ctx context.Context, args []string) error {
	f, err := parseCredentials("login", args)
	if err != nil {
		return err
	}

	token, err := client.Login(ctx, f.server, f.username, f.password)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
