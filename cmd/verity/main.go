// Command verity is the operator CLI: compile truth states from files,
// lint policies before activation, replay the signal log into
// standings, inspect and verify signed states, and manage signing keys.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/redis/go-redis/v9"

	"github.com/verity-protocol/verity/pkg/cache"
	"github.com/verity-protocol/verity/pkg/config"
	"github.com/verity-protocol/verity/pkg/contract"
	"github.com/verity-protocol/verity/pkg/engine"
	"github.com/verity-protocol/verity/pkg/medallion"
	"github.com/verity-protocol/verity/pkg/observation"
	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/policylint"
	"github.com/verity-protocol/verity/pkg/reducer"
	"github.com/verity-protocol/verity/pkg/signalstore"
	"github.com/verity-protocol/verity/pkg/signing"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "verity",
		Short:         "Deterministic truth compiler and trust engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(compileCmd(), lintPolicyCmd(), replayCmd(), inspectCmd(), keygenCmd())
	return root
}

func compileCmd() *cobra.Command {
	var (
		contractPath string
		obsPath      string
		truthKey     string
		compileAt    string
		windowOpen   bool
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile observations into a signed truth state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ct, err := contract.LoadFile(contractPath)
			if err != nil {
				return err
			}

			obsData, err := os.ReadFile(obsPath)
			if err != nil {
				return fmt.Errorf("read observations: %w", err)
			}
			var obs []observation.Observation
			if err := json.Unmarshal(obsData, &obs); err != nil {
				return fmt.Errorf("parse observations: %w", err)
			}

			compileTime, err := time.Parse(time.RFC3339, compileAt)
			if err != nil {
				return fmt.Errorf("parse compile time: %w", err)
			}

			pol, err := policy.Load(cfg.PolicyPath)
			if err != nil {
				return err
			}
			store, err := signalstore.OpenJSONL(cfg.SignalLogPath)
			if err != nil {
				return err
			}
			keyring, err := signing.OpenKeyring(cfg.KeystorePath, cfg.SigningMethod)
			if err != nil {
				return err
			}
			signer, err := keyring.Signer()
			if err != nil {
				return err
			}
			silver, err := medallion.OpenSQLite(cfg.MedallionPath)
			if err != nil {
				return err
			}
			defer silver.Close()

			eng := engine.New(store, pol, signer, silver, nil)
			if cfg.RedisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
				defer client.Close()
				eng.SetSnapshotCache(cache.NewSnapshots(client, time.Hour))
			}
			result, err := eng.CompileTruth(cmd.Context(), engine.CompileRequest{
				Contract:     ct,
				TruthKey:     truthKey,
				Observations: obs,
				CompileTime:  compileTime.UTC(),
				WindowOpen:   windowOpen,
			})
			if err != nil {
				return err
			}
			return printJSON(result.State)
		},
	}
	cmd.Flags().StringVar(&contractPath, "contract", "", "path to the claim contract YAML")
	cmd.Flags().StringVar(&obsPath, "observations", "", "path to a JSON array of observations")
	cmd.Flags().StringVar(&truthKey, "truth-key", "", "canonical truth key")
	cmd.Flags().StringVar(&compileAt, "compile-time", "", "explicit compile time (RFC 3339)")
	cmd.Flags().BoolVar(&windowOpen, "window-open", true, "whether the validation window is still open")
	for _, f := range []string{"contract", "observations", "truth-key", "compile-time"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func lintPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint-policy <policy.yaml>",
		Short: "Run the archetype linter a policy must pass before activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := policy.Load(args[0])
			if err != nil {
				return err
			}
			report, err := policylint.Lint(pol)
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.Pass {
				return fmt.Errorf("policy %s failed lint", pol.Version)
			}
			slog.Info("policy passed lint", "version", pol.Version)
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the signal log into standings under the active policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			pol, err := policy.Load(cfg.PolicyPath)
			if err != nil {
				return err
			}
			store, err := signalstore.OpenJSONL(cfg.SignalLogPath)
			if err != nil {
				return err
			}
			signals, err := store.All()
			if err != nil {
				return err
			}

			at := time.Now().UTC()
			if asOf != "" {
				if at, err = time.Parse(time.RFC3339, asOf); err != nil {
					return fmt.Errorf("parse as-of: %w", err)
				}
			}

			res, err := reducer.Reduce(signals, pol, at, reducer.Options{})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"as_of":         at.Format(time.RFC3339),
				"policy":        pol.Version,
				"standings":     res.Standings,
				"unknown_types": res.UnknownTypes,
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "replay cutoff (RFC 3339, default now)")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <state.json>",
		Short: "Decode a truth state and verify its hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			var st truthstate.TruthState
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("parse state: %w", err)
			}

			semantic, err := st.SemanticHash()
			if err != nil {
				return err
			}
			stateHash, err := st.StateHash()
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"truth_key":           st.TruthKey,
				"status":              st.Status,
				"semantic_hash_ok":    semantic == st.Security.SemanticHash,
				"state_hash_ok":       stateHash == st.Security.StateHash,
				"signed":              st.Security.Signature != "",
				"signing_method":      st.Security.SigningMethod,
				"key_id":              st.Security.KeyID,
				"computed_state_hash": stateHash,
			})
		},
	}
}

func keygenCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create or rotate the signing keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			keyring, err := signing.OpenKeyring(cfg.KeystorePath, method)
			if err != nil {
				return err
			}
			version, err := keyring.Rotate()
			if err != nil {
				return err
			}
			slog.Info("keyring rotated", "path", cfg.KeystorePath, "active_version", version)
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", signing.MethodEd25519, "signing method for a fresh keyring")
	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
