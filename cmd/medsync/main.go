package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/harperreed/medsync/engine"
	"github.com/harperreed/medsync/meds"
)

const defaultConfigPath = "./medsync.yaml"

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	var err error
	switch cmd {
	case "add":
		err = cmdAdd(args)
	case "take":
		err = cmdTake(args)
	case "rm":
		err = cmdRemove(args)
	case "list":
		err = cmdList(args)
	case "sync":
		err = cmdSync(args)
	case "status":
		err = cmdStatus(args)
	case "reload":
		err = cmdReload(args)
	default:
		usage()
		return
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Println(`medsync - offline-first medication tracker

usage:
  medsync add -name NAME -dosage N [-unit mg] [-times N] [-notes TEXT] [-expires YYYY-MM-DD]
  medsync take -rx PRESCRIPTION_ID [-qty N] [-notes TEXT]
  medsync rm -id PRESCRIPTION_ID
  medsync list [-expiring DAYS]
  medsync sync
  medsync status
  medsync reload

common flags: -server, -token, -db, -strategy, -remote, -redis
config file: ./medsync.yaml (override with MEDSYNC_CONFIG)`)
}

// configPath honors MEDSYNC_CONFIG so flags stay per-command.
func configPath() string {
	if p := os.Getenv("MEDSYNC_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// parseThenRun loads config, lets the command register its flags, parses
// overrides, and runs the command against a wired App.
func parseThenRun(name string, args []string, define func(fs *flag.FlagSet), fn func(ctx context.Context, app *App) error) error {
	cfg, err := LoadConfig(configPath())
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfg.BindFlags(fs)
	define(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			log.Printf("close: %v", cerr)
		}
	}()
	return fn(ctx, app)
}

func cmdAdd(args []string) error {
	var name, unit, notes, expires string
	var dosage float64
	var times int
	return parseThenRun("add", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "medication name")
		fs.Float64Var(&dosage, "dosage", 0, "dosage amount")
		fs.StringVar(&unit, "unit", meds.DefaultUnit, "dosage unit")
		fs.IntVar(&times, "times", meds.DefaultTimesPerDay, "times per day")
		fs.StringVar(&notes, "notes", "", "free-form notes")
		fs.StringVar(&expires, "expires", "", "expiry date (YYYY-MM-DD)")
	}, func(ctx context.Context, app *App) error {
		if name == "" {
			return fmt.Errorf("medication name required")
		}
		p := meds.NewPrescription(name, dosage)
		p.Unit = unit
		p.TimesPerDay = times
		p.Notes = notes
		if expires != "" {
			t, err := time.Parse("2006-01-02", expires)
			if err != nil {
				return fmt.Errorf("parse -expires: %w", err)
			}
			p.ExpiresAt = t
		}
		if err := app.Prescriptions.Create(ctx, p); err != nil {
			return err
		}
		fmt.Println(p.RecordID)
		return nil
	})
}

func cmdTake(args []string) error {
	var rxID, notes string
	var qty int
	return parseThenRun("take", args, func(fs *flag.FlagSet) {
		fs.StringVar(&rxID, "rx", "", "prescription id")
		fs.IntVar(&qty, "qty", meds.DefaultQuantity, "quantity taken")
		fs.StringVar(&notes, "notes", "", "free-form notes")
	}, func(ctx context.Context, app *App) error {
		if rxID == "" {
			return fmt.Errorf("prescription id required")
		}
		if _, err := app.Prescriptions.Get(ctx, rxID); err != nil {
			return fmt.Errorf("prescription %s: %w", rxID, err)
		}
		in := meds.NewIntake(rxID)
		in.Quantity = qty
		in.Notes = notes
		if err := app.Intakes.Create(ctx, in); err != nil {
			return err
		}
		fmt.Println(in.RecordID)
		return nil
	})
}

func cmdRemove(args []string) error {
	var id string
	return parseThenRun("rm", args, func(fs *flag.FlagSet) {
		fs.StringVar(&id, "id", "", "prescription id")
	}, func(ctx context.Context, app *App) error {
		if id == "" {
			return fmt.Errorf("prescription id required")
		}
		return app.Prescriptions.Delete(ctx, id)
	})
}

func cmdList(args []string) error {
	var expiringDays int
	return parseThenRun("list", args, func(fs *flag.FlagSet) {
		fs.IntVar(&expiringDays, "expiring", 0, "only show prescriptions expiring within N days")
	}, func(ctx context.Context, app *App) error {
		entities, err := app.Prescriptions.List(ctx)
		if err != nil {
			return err
		}
		ps := make([]*meds.Prescription, 0, len(entities))
		for _, e := range entities {
			if p, ok := e.(*meds.Prescription); ok {
				ps = append(ps, p)
			}
		}
		if expiringDays > 0 {
			ps = meds.ExpiringSoon(ps, time.Now().UTC(), time.Duration(expiringDays)*24*time.Hour)
		}
		for _, p := range ps {
			synced := " "
			if !p.SyncMeta.Synced {
				synced = "*"
			}
			line := fmt.Sprintf("%s%s  %s  %.4g%s x%d/day  v%d", synced, p.RecordID, p.Name, p.Dosage, p.Unit, p.TimesPerDay, p.SyncMeta.Version)
			if !p.ExpiresAt.IsZero() {
				line += "  expires " + p.ExpiresAt.Format("2006-01-02")
			}
			fmt.Println(line)
		}
		return nil
	})
}

func cmdSync(args []string) error {
	return parseThenRun("sync", args, func(fs *flag.FlagSet) {}, func(ctx context.Context, app *App) error {
		for name, orch := range map[string]*engine.Orchestrator{
			meds.PrescriptionCollection: app.Prescriptions,
			meds.IntakeCollection:       app.Intakes,
		} {
			if err := orch.Sync(ctx); err != nil {
				return fmt.Errorf("sync %s: %w", name, err)
			}
			printState(name, orch.State())
		}
		return nil
	})
}

func cmdStatus(args []string) error {
	return parseThenRun("status", args, func(fs *flag.FlagSet) {}, func(ctx context.Context, app *App) error {
		printState(meds.PrescriptionCollection, app.Prescriptions.State())
		printState(meds.IntakeCollection, app.Intakes.State())
		return nil
	})
}

func cmdReload(args []string) error {
	return parseThenRun("reload", args, func(fs *flag.FlagSet) {}, func(ctx context.Context, app *App) error {
		if err := app.Prescriptions.ForceReload(ctx); err != nil {
			return err
		}
		return app.Intakes.ForceReload(ctx)
	})
}

func printState(name string, s engine.SyncState) {
	line := fmt.Sprintf("%s: %s, %d pending", name, s.Status, s.PendingOperations)
	if s.LastError != "" {
		line += ", last error: " + s.LastError
	}
	fmt.Println(line)
}
