// workers/scheduler.go
package workers

import (
	"context"
	"time"

	"coalition-score-engine/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartScheduler wires the periodic passes: the corrective rebalancing
// sweep, the bonus sweep, and the season close-out check. Every pass runs
// hourly, in singleton mode so a slow run is never overlapped by the next
// tick, and failures are logged and left for the following tick.
func StartScheduler(log *logrus.Logger, recon *services.Reconciler, ranking *services.RankingService, season *services.SeasonService) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	jobs := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"rebalance", recon.RebalanceAll},
		{"bonus-sweep", func(ctx context.Context) error {
			return ranking.DistributeBonuses(ctx, time.Now().UTC())
		}},
		{"season-close", func(ctx context.Context) error {
			return season.CloseFinished(ctx, time.Now().UTC())
		}},
	}

	for _, job := range jobs {
		name, run := job.name, job.run
		_, err := sched.NewJob(
			gocron.DurationJob(1*time.Hour),
			gocron.NewTask(func() {
				if err := run(context.Background()); err != nil {
					log.Errorf("❌ [Scheduler] %s pass failed: %v", name, err)
				}
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	log.Info("⏰ Scheduler started: rebalance, bonus-sweep, season-close (hourly)")
	return sched, nil
}
