package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/cron"
	"github.com/0xPuncker/flow-scheduler/internal/store"
	"github.com/0xPuncker/flow-scheduler/pkg/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	file := flag.String("file", store.DefaultPath, "path to the cron jobs file")
	next := flag.Int("next", 3, "number of upcoming fire times to print per job")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	fs, err := store.NewFileStore(*file, logger)
	if err != nil {
		fmt.Printf("Open error: %v\n", err)
		os.Exit(1)
	}

	jobs := fs.LoadAll()
	fmt.Printf("Jobs file: %s\n", fs.Path())
	fmt.Printf("Stored jobs: %d\n", len(jobs))

	now := time.Now()
	invalid := 0
	for _, job := range jobs {
		fmt.Printf("\n%s\n", job.Key())
		fmt.Printf("  schedule: %s\n", job.Schedule)
		if len(job.InputPayload) > 0 {
			fmt.Printf("  payload:  %d bytes\n", len(job.InputPayload))
		}

		schedule, err := cron.ParseSchedule(job.Schedule)
		if err != nil {
			invalid++
			fmt.Printf("  INVALID: %v\n", err)
			continue
		}

		at := now
		for i := 0; i < *next; i++ {
			at = schedule.Next(at)
			if at.IsZero() {
				break
			}
			fmt.Printf("  next:     %s (in %s)\n", at.Format(time.RFC1123), utils.FormatDuration(at.Sub(now)))
		}
	}

	if invalid > 0 {
		fmt.Printf("\n%d job(s) would be skipped at startup\n", invalid)
		os.Exit(2)
	}
}
