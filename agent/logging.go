package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/agent/command"
	"github.com/mongodb/amboy/logger"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
)

var idSource chan int

func init() {
	idSource = make(chan int, 100)

	go func() {
		id := 0
		for {
			idSource <- id
			id++
		}
	}()
}

func getInc() int { return <-idSource }

// GetSender builds the sender job logs are written to. An empty prefix
// writes nowhere, LocalLoggingOverride or "--" writes to the console,
// and any other prefix writes to a per-job log file. When splunk
// credentials are present in the environment, logs are mirrored there
// through a queue-backed buffer.
func GetSender(ctx context.Context, prefix string) (send.Sender, error) {
	var (
		err     error
		sender  send.Sender
		senders []send.Sender
	)

	if splunk := send.GetSplunkConnectionInfo(); splunk.Populated() {
		sender, err = send.NewSplunkLogger("conveyor.agent", splunk, send.LevelInfo{Default: level.Info, Threshold: level.Alert})
		if err != nil {
			return nil, errors.Wrap(err, "problem creating the splunk logger")
		}

		sender, err = logger.NewQueueBackedSender(ctx, sender, 2, 10)
		if err != nil {
			return nil, errors.Wrap(err, "problem creating the splunk buffer")
		}

		senders = append(senders, sender)
	}

	if prefix == "" {
		// pass
	} else if prefix == conveyor.LocalLoggingOverride || prefix == "--" {
		sender, err = send.NewNativeLogger("conveyor.agent", send.LevelInfo{Default: level.Info, Threshold: level.Debug})
		if err != nil {
			return nil, errors.Wrap(err, "problem creating a native console logger")
		}

		senders = append(senders, sender)
	} else {
		sender, err = send.NewFileLogger("conveyor.agent",
			fmt.Sprintf("%s-%d-%d.log", prefix, os.Getpid(), getInc()), send.LevelInfo{Default: level.Info, Threshold: level.Debug})
		if err != nil {
			return nil, errors.Wrap(err, "problem creating a file logger")
		}

		senders = append(senders, sender)
	}

	return send.NewConfiguredMultiSender(senders...), nil
}

type logHarness struct {
	execution grip.Journaler
	task      grip.Journaler
	system    grip.Journaler
}

func (l *logHarness) Execution() grip.Journaler { return l.execution }
func (l *logHarness) Task() grip.Journaler      { return l.task }
func (l *logHarness) System() grip.Journaler    { return l.system }

// NewLoggerProducer builds the logger producer commands write through
// while a job runs. All three streams share the given sender; the
// stream name is carried in the journaler name.
func NewLoggerProducer(name string, sender send.Sender) (command.LoggerProducer, error) {
	h := &logHarness{
		execution: grip.NewJournaler(fmt.Sprintf("%s.execution", name)),
		task:      grip.NewJournaler(fmt.Sprintf("%s.job", name)),
		system:    grip.NewJournaler(fmt.Sprintf("%s.system", name)),
	}

	catcher := grip.NewBasicCatcher()
	catcher.Add(h.execution.SetSender(sender))
	catcher.Add(h.task.SetSender(sender))
	catcher.Add(h.system.SetSender(sender))
	if catcher.HasErrors() {
		return nil, errors.Wrap(catcher.Resolve(), "problem setting senders on the job log streams")
	}

	return h, nil
}
