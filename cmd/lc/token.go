package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadcheck/leadcheck/internal/config"
	"github.com/leadcheck/leadcheck/internal/httpapi"
	"github.com/leadcheck/leadcheck/internal/types"
)

var tokenCmd = &cobra.Command{
	Use:     "token",
	GroupID: "server",
	Short:   "Issue API tokens",
}

var tokenIntakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Issue a call-result intake token (X-Intake-Token)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		secret := config.GetString("intake.secret")
		if secret == "" {
			FatalErrorWithHint("intake.secret is not set", "set it in leadcheck.yaml or LC_INTAKE_SECRET")
		}
		submission, _ := cmd.Flags().GetString("submission")
		source, _ := cmd.Flags().GetString("source")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		claims := httpapi.IntakeClaims{SubmissionID: submission, Source: source, Expiry: time.Now().Add(ttl).UTC()}
		tok, err := httpapi.GenerateIntakeToken(claims, []byte(secret))
		if err != nil {
			FatalError("%v", err)
		}
		printToken(tok, claims.Expiry)
	},
}

var tokenAgentCmd = &cobra.Command{
	Use:   "agent <agent-id>",
	Short: "Issue a bearer token for an agent",
	Long: `Issue a bearer token for an agent. The role comes from --role or, when
omitted, from the roster.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		secret := config.GetString("auth.jwt_secret")
		if secret == "" {
			FatalErrorWithHint("auth.jwt_secret is not set", "set it in leadcheck.yaml or LC_AUTH_JWT_SECRET")
		}
		var role types.Role
		if raw := config.GetString("role"); raw != "" {
			r, err := types.ParseRole(raw)
			if err != nil {
				FatalError("%v", err)
			}
			role = r
		} else if a, ok := lookupAgent(args[0]); ok {
			role = a.Role
		} else {
			FatalErrorWithHint(fmt.Sprintf("%s is not in the roster", args[0]), "pass --role")
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = config.GetDuration("auth.jwt_ttl")
		}
		now := time.Now()
		tok, err := httpapi.IssueAgentToken([]byte(secret), args[0], role, ttl, now)
		if err != nil {
			FatalError("%v", err)
		}
		printToken(tok, now.Add(ttl).UTC())
	},
}

func printToken(tok string, expires time.Time) {
	if jsonOutput {
		outputJSON(map[string]string{"token": tok, "expires_at": expires.Format(time.RFC3339)})
		return
	}
	fmt.Println(tok)
}

func init() {
	tokenIntakeCmd.Flags().String("submission", "", "Pin the token to one submission (default: any)")
	tokenIntakeCmd.Flags().String("source", "", "Name recorded as the closing actor")
	tokenIntakeCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenAgentCmd.Flags().Duration("ttl", 0, "Token lifetime (default: auth.jwt_ttl)")

	tokenCmd.AddCommand(tokenIntakeCmd, tokenAgentCmd)
	rootCmd.AddCommand(tokenCmd)
}
