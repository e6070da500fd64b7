package cli

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/andreyvit/memdb"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Count int
	Log   string
	Sync  bool
	Seed  uint64
}

// Activity is the sample document the benchmark stores.
type Activity struct {
	ID          int64      `json:"id"`
	AthleteName string     `json:"athleteName"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	Description string     `json:"description,omitempty"`
	Positions   []Position `json:"positions,omitempty"`
}

type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (a *Activity) GetID() int64   { return a.ID }
func (a *Activity) SetID(id int64) { a.ID = id }
func (a *Activity) Clone() *Activity {
	c := *a
	c.Positions = slices.Clone(a.Positions)
	return &c
}

type BenchStep struct {
	Name     string        `json:"name"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration_ns"`
}

type BenchResult struct {
	Documents int         `json:"documents"`
	Steps     []BenchStep `json:"steps"`
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run an insert/update/delete load test against an in-memory collection",
		Long: `Insert --count generated activities, update the first one, delete it, then
delete everything, checking the document count after every step.

With --log, every transaction is also appended to that file.

Examples:
  memdb bench --count 100000
  memdb bench --count 10000 --log /tmp/bench.log --sync`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(opts, cmd)
		},
	}
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100000, "number of documents to insert")
	cmd.Flags().StringVar(&opts.Log, "log", "", "also log transactions to this file")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "sync the log after every transaction")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed for generated documents")
	return cmd
}

func runBench(opts *BenchOptions, cmd *cobra.Command) error {
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "--count must be positive")
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	var sinks []memdb.Sink
	if opts.Log != "" {
		fs, err := memdb.NewFileSink(opts.Log, memdb.FileSinkOptions{Sync: opts.Sync, Logger: logger})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open log", err)
		}
		sinks = append(sinks, fs)
	}
	db, err := memdb.Open("bench", memdb.Options{Logger: logger, Sinks: sinks})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	coll, err := memdb.CreateCollection[*Activity](db, "activities")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create collection", err)
	}

	result, err := bench(coll, opts.Count, rand.New(rand.NewPCG(opts.Seed, opts.Seed)))
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	w := cmd.OutOrStdout()
	for _, step := range result.Steps {
		per := time.Duration(0)
		if step.Count > 0 {
			per = step.Duration / time.Duration(step.Count)
		}
		fmt.Fprintf(w, "%-12s %8d docs %12v %10v/doc\n", step.Name, step.Count, step.Duration.Round(time.Microsecond), per)
	}
	return nil
}

func bench(coll *memdb.Collection[*Activity], n int, rnd *rand.Rand) (*BenchResult, error) {
	result := &BenchResult{Documents: n}
	measure := func(name string, count int, f func() error) error {
		start := time.Now()
		err := f()
		result.Steps = append(result.Steps, BenchStep{Name: name, Count: count, Duration: time.Since(start)})
		return err
	}
	expect := func(want int) error {
		if got := coll.Count(); got != want {
			return NewExitError(ExitFailure, fmt.Sprintf("expected %d documents, found %d", want, got))
		}
		return nil
	}

	err := measure("insert", n, func() error {
		for range n {
			if _, err := coll.Insert(generateActivity(rnd)); err != nil {
				return WrapExitError(ExitFailure, "insert failed", err)
			}
		}
		return expect(n)
	})
	if err != nil {
		return result, err
	}

	var first *Activity
	err = measure("find all", n, func() error {
		all := coll.All()
		if len(all) != n {
			return NewExitError(ExitFailure, fmt.Sprintf("expected %d documents, listed %d", n, len(all)))
		}
		first = all[0]
		return nil
	})
	if err != nil {
		return result, err
	}

	err = measure("update", 1, func() error {
		first.AthleteName = "John Bianchi"
		updated, found, err := coll.Update(first)
		if err != nil || !found || updated.AthleteName != first.AthleteName {
			return WrapExitError(ExitFailure, "update of the first document failed", err)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	err = measure("delete", 1, func() error {
		if found, err := coll.Delete(first.ID); err != nil || !found {
			return WrapExitError(ExitFailure, "delete of the first document failed", err)
		}
		return expect(n - 1)
	})
	if err != nil {
		return result, err
	}

	err = measure("delete all", n-1, func() error {
		deleted, err := coll.DeleteAll()
		if err != nil {
			return WrapExitError(ExitFailure, "delete all failed", err)
		}
		if deleted != n-1 {
			return NewExitError(ExitFailure, fmt.Sprintf("delete all removed %d documents, expected %d", deleted, n-1))
		}
		return expect(0)
	})
	return result, err
}

var (
	benchAthletes = []string{"Ann Frazier", "Raj Patel", "Mei Lin", "Tomas Berg", "Ola Nordmann"}
	benchTypes    = []string{"Run", "Ride", "Swim", "Walk"}
	benchStatuses = []string{"Created", "Started", "Completed"}
)

func generateActivity(rnd *rand.Rand) *Activity {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(rnd.IntN(365*24)) * time.Hour)
	a := &Activity{
		AthleteName: benchAthletes[rnd.IntN(len(benchAthletes))],
		Type:        benchTypes[rnd.IntN(len(benchTypes))],
		Status:      benchStatuses[rnd.IntN(len(benchStatuses))],
		CreatedAt:   created,
	}
	for i := range rnd.IntN(4) {
		a.Positions = append(a.Positions, Position{
			Latitude:   rnd.Float64()*180 - 90,
			Longitude:  rnd.Float64()*360 - 180,
			RecordedAt: created.Add(time.Duration(i) * time.Minute),
		})
	}
	return a
}
