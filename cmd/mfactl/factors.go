package main

import (
	"context"
	"fmt"
	"strings"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, ok := a.store.(interface{ Migrate(context.Context) error })
			if !ok {
				a.printf("store %q has no schema\n", a.cfg.Store.Driver)
				return nil
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.printf("schema up to date\n")
			return nil
		},
	}
}

func newTOTPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Enrol, verify and remove authenticator-app secrets",
	}

	var account, secret string
	setup := &cobra.Command{
		Use:   "setup <user-id>",
		Short: "Begin TOTP enrolment and print the provisioning URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.engine.BeginTOTPSetup(a.ctx(cmd), args[0], account, secret)
			if err != nil {
				return err
			}
			a.printf("secret: %s\nuri:    %s\n", s.Secret, s.ProvisioningURI)
			return nil
		},
	}
	setup.Flags().StringVar(&account, "account", "", "account label in the provisioning URI (default user id)")
	setup.Flags().StringVar(&secret, "secret", "", "use this Base32 secret instead of generating one")

	cmd.AddCommand(
		setup,
		&cobra.Command{
			Use:   "confirm <user-id> <code>",
			Short: "Confirm enrolment with a first code",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := a.engine.ConfirmTOTPSetup(a.ctx(cmd), args[0], args[1])
				if err != nil {
					return err
				}
				a.printVerify(res)
				return nil
			},
		},
		&cobra.Command{
			Use:   "verify <user-id> <code>",
			Short: "Verify a TOTP code",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := a.engine.VerifyTOTP(a.ctx(cmd), args[0], args[1])
				if err != nil {
					return err
				}
				a.printVerify(res)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable <user-id>",
			Short: "Remove the user's TOTP secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.engine.DisableTOTP(a.ctx(cmd), args[0]); err != nil {
					return err
				}
				a.printf("totp disabled for %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newCodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Send and verify SMS or email one-time codes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "send <sms|email> <user-id> <destination>",
			Short: "Issue a one-time code to a phone number or email address",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				factor, err := channelFactor(args[0])
				if err != nil {
					return err
				}
				res, err := a.engine.Issue(a.ctx(cmd), goMFA.IssueRequest{
					UserID:      args[1],
					Factor:      factor,
					Destination: args[2],
				})
				if err != nil {
					return err
				}
				a.printf("code %s sent, expires %s\n", res.CodeID, res.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
				if m := a.mocks[factor]; m != nil {
					for _, msg := range m.Messages() {
						if msg.Code != "" {
							a.printf("mock delivery to %s: %s\n", msg.To, msg.Code)
						}
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "verify <sms|email> <user-id> <code>",
			Short: "Verify the pending one-time code",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				factor, err := channelFactor(args[0])
				if err != nil {
					return err
				}
				res, err := a.engine.Verify(a.ctx(cmd), goMFA.VerifyRequest{
					UserID: args[1],
					Factor: factor,
					Code:   args[2],
				})
				if err != nil {
					return err
				}
				a.printVerify(res)
				return nil
			},
		},
	)
	return cmd
}

func channelFactor(s string) (goMFA.Factor, error) {
	switch f := goMFA.Factor(strings.ToLower(s)); f {
	case goMFA.FactorSMS, goMFA.FactorEmail:
		return f, nil
	}
	return "", fmt.Errorf("channel must be sms or email, got %q", s)
}

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage single-use backup codes",
	}

	var regenerate bool
	generate := &cobra.Command{
		Use:   "generate <user-id>",
		Short: "Generate a batch of backup codes and print them once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := a.engine.GenerateBackupCodes(a.ctx(cmd), args[0], regenerate)
			if err != nil {
				return err
			}
			for _, c := range codes {
				a.printf("%s\n", c)
			}
			return nil
		},
	}
	generate.Flags().BoolVar(&regenerate, "regenerate", false, "replace existing unused codes")

	cmd.AddCommand(
		generate,
		&cobra.Command{
			Use:   "verify <user-id> <code>",
			Short: "Consume a backup code",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := a.engine.VerifyBackupCode(a.ctx(cmd), args[0], args[1])
				if err != nil {
					return err
				}
				a.printVerify(res)
				a.printf("remaining: %d\n", res.RemainingCodes)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <user-id>",
			Short: "Delete every backup code of the user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.engine.DeleteBackupCodes(a.ctx(cmd), args[0])
				if err != nil {
					return err
				}
				a.printf("deleted %d codes\n", n)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) printVerify(res *goMFA.VerifyResult) {
	a.printf("ok: %s verified\n", res.Factor)
	if res.Assertion != "" {
		a.printf("assertion: %s\nexpires:   %s\n", res.Assertion, res.AssertionExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	}
}
