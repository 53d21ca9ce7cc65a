package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-opd/internal/app"
	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/config"
	"github.com/hackgods/clinic-opd/internal/db"
	"github.com/hackgods/clinic-opd/internal/invoice"
	"github.com/hackgods/clinic-opd/internal/logging"
	"github.com/hackgods/clinic-opd/internal/seed"
	"github.com/hackgods/clinic-opd/internal/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Operate the clinic OPD backend",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(superadminCmd())
	rootCmd.AddCommand(exportCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withService opens the configured backends for one command run.
func withService(cmd *cobra.Command, fn func(svc *clinic.Service, logger zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "clinicctl").Logger()
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn().Msg("STORE_DRIVER=memory, changes will not outlive this command")
	}

	rt, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.Service(logger, nil), logger)
}

// operator acts on one tenant with Admin rights.
func operator(tenantID string) session.Session {
	return session.Session{TenantID: tenantID, UserID: "clinicctl", Role: authz.RoleAdmin, Name: "clinicctl"}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
	}

	run := func(steps int) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.PostgresDSN == "" {
				return errors.New("POSTGRES_DSN is required")
			}
			version, err := db.Migrate(cfg.PostgresDSN, steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  run(0),
	})

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			return run(-steps)(cmd, args)
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of versions to roll back")
	cmd.AddCommand(downCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo clinic with generated staff, patients and appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts seed.Options
			opts.ClinicName, _ = cmd.Flags().GetString("name")
			opts.AdminEmail, _ = cmd.Flags().GetString("email")
			opts.Password, _ = cmd.Flags().GetString("password")
			opts.Doctors, _ = cmd.Flags().GetInt("doctors")
			opts.Patients, _ = cmd.Flags().GetInt("patients")
			opts.Appointments, _ = cmd.Flags().GetInt("appointments")
			opts.Date, _ = cmd.Flags().GetString("date")

			return withService(cmd, func(svc *clinic.Service, logger zerolog.Logger) error {
				res, err := seed.Clinic(cmd.Context(), svc, opts, logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s (%s)\n", res.Tenant.ID, res.Tenant.Name)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "Clinic name (generated when empty)")
	cmd.Flags().String("email", "", "Admin email")
	cmd.Flags().String("password", "password123", "Password for every seeded account")
	cmd.Flags().Int("doctors", 3, "Number of doctors")
	cmd.Flags().Int("patients", 20, "Number of patients")
	cmd.Flags().Int("appointments", 12, "Number of appointments booked")
	cmd.Flags().String("date", "", "Appointment date YYYY-MM-DD (default today)")
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Sign up a clinic with its first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req clinic.SignupRequest
			req.ClinicName, _ = cmd.Flags().GetString("name")
			req.AdminName, _ = cmd.Flags().GetString("admin")
			req.Email, _ = cmd.Flags().GetString("email")
			req.Password, _ = cmd.Flags().GetString("password")
			req.ConsultationFee, _ = cmd.Flags().GetFloat64("consultation-fee")
			req.PlatformFee, _ = cmd.Flags().GetFloat64("platform-fee")
			plan, _ := cmd.Flags().GetString("plan")
			req.Plan = clinic.Plan(plan)

			return withService(cmd, func(svc *clinic.Service, logger zerolog.Logger) error {
				tenant, admin, err := svc.Signup(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created, admin %s\n", tenant.ID, admin.Email)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Clinic name")
	createCmd.Flags().String("admin", "", "Admin display name")
	createCmd.Flags().String("email", "", "Admin email")
	createCmd.Flags().String("password", "", "Admin password")
	createCmd.Flags().Float64("consultation-fee", 0, "Consultation fee (0 uses the default)")
	createCmd.Flags().Float64("platform-fee", 0, "Platform fee")
	createCmd.Flags().String("plan", string(clinic.PlanFree), "Free, Pro or Enterprise")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *clinic.Service, logger zerolog.Logger) error {
				tenants, err := svc.ListTenants(cmd.Context(), session.Session{
					TenantID: clinic.PlatformTenant, UserID: "clinicctl", Role: authz.RoleSuperAdmin,
				})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPLAN\tSTATUS")
				for _, t := range tenants {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Plan, t.Status)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func superadminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superadmin",
		Short: "Create the platform SuperAdmin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			return withService(cmd, func(svc *clinic.Service, logger zerolog.Logger) error {
				u, err := svc.CreateSuperAdmin(cmd.Context(), name, email, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "superadmin %s created\n", u.Email)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "Platform Admin", "Display name")
	cmd.Flags().String("email", "", "Login email")
	cmd.Flags().String("password", "", "Login password")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-bills",
		Short: "Write a clinic's settled bills to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			out, _ := cmd.Flags().GetString("out")
			if tenantID == "" {
				return errors.New("--tenant is required")
			}

			return withService(cmd, func(svc *clinic.Service, logger zerolog.Logger) error {
				sess := operator(tenantID)
				bills, err := svc.ListBills(cmd.Context(), sess)
				if err != nil {
					return err
				}
				patients, err := svc.ListPatients(cmd.Context(), sess)
				if err != nil {
					return err
				}
				names := make(map[string]string, len(patients))
				for _, p := range patients {
					names[p.ID] = p.FullName()
				}

				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := invoice.ExportBills(f, bills, names); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				logger.Info().Str("tenant_id", tenantID).Int("bills", len(bills)).Str("file", out).Msg("bills exported")
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant ID")
	cmd.Flags().String("out", "bills.xlsx", "Output file")
	return cmd
}
