package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/util"
	"github.com/evergreen-ci/utility"
	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip/level"
	"github.com/pkg/errors"
)

const (
	gitCloneAttempts = 3
	gitCloneMinDelay = time.Second
	gitCloneMaxDelay = 30 * time.Second
)

// gitCheckout clones the repository named by the triggering event into
// the job's workspace and checks out the event's revision. For pull
// request events the PR head ref is fetched before checkout.
type gitCheckout struct {
	// Directory is where the source lands, relative to the workspace.
	// Defaults to the workspace root.
	Directory string `mapstructure:"dir" plugin:"expand"`

	// CloneURL overrides the URL derived from the event's repository.
	CloneURL string `mapstructure:"clone_url" plugin:"expand"`

	// Token authenticates clones of private repositories. It is
	// redacted from anything the command logs.
	Token string `mapstructure:"token" plugin:"expand"`

	// Depth, when nonzero, makes the clone shallow.
	Depth int `mapstructure:"depth"`

	base
}

func gitCheckoutFactory() Command   { return &gitCheckout{} }
func (c *gitCheckout) Name() string { return "git.checkout" }

func (c *gitCheckout) ParseParams(params map[string]interface{}) error {
	if err := mapstructure.Decode(params, c); err != nil {
		return errors.Wrapf(err, "error decoding %s params", c.Name())
	}
	return nil
}

func (c *gitCheckout) Execute(ctx context.Context, logger LoggerProducer, conf *JobContext) error {
	if err := util.ExpandValues(c, conf.Expansions); err != nil {
		return errors.Wrap(err, "problem expanding checkout values")
	}

	cloneURL := c.CloneURL
	if cloneURL == "" {
		if conf.Event.Repo == "" {
			// manual and cron runs execute against the workspace as-is
			logger.Task().Info("no repository on the triggering event, skipping checkout")
			return nil
		}
		cloneURL = fmt.Sprintf("https://github.com/%s.git", conf.Event.Repo)
	}
	if c.Token != "" {
		cloneURL = strings.Replace(cloneURL, "https://", fmt.Sprintf("https://x-access-token:%s@", c.Token), 1)
	}

	dir, err := conf.GetWorkingDirectory(c.Directory)
	if err != nil {
		return errors.WithStack(err)
	}

	script := c.buildScript(cloneURL, dir, conf)
	logger.Execution().Debugf("checkout script:\n%s", c.redact(script))

	err = utility.Retry(ctx, func() (bool, error) {
		cmd := c.JasperManager().CreateCommand(ctx).Add([]string{"sh", "-c", script}).
			Environment(conf.Env).
			SetOutputSender(level.Info, logger.Task().GetSender()).
			SetErrorSender(level.Error, logger.Task().GetSender())

		if err := cmd.Run(ctx); err != nil {
			return true, errors.Wrap(err, "checking out source")
		}
		return false, nil
	}, utility.RetryOptions{
		MaxAttempts: gitCloneAttempts,
		MinDelay:    gitCloneMinDelay,
		MaxDelay:    gitCloneMaxDelay,
	})
	if ctx.Err() != nil {
		return errors.Errorf("%s aborted", c.Name())
	}
	return errors.WithStack(err)
}

func (c *gitCheckout) buildScript(cloneURL, dir string, conf *JobContext) string {
	cloneArgs := ""
	if c.Depth > 0 {
		cloneArgs = fmt.Sprintf(" --depth %d", c.Depth)
	}

	cmds := []string{
		"set -o errexit",
		fmt.Sprintf("if [ ! -d '%s/.git' ]; then git clone%s '%s' '%s'; fi", dir, cloneArgs, cloneURL, dir),
		fmt.Sprintf("cd '%s'", dir),
	}
	if conf.Event.Kind == conveyor.EventPullRequest && conf.Event.PRNumber > 0 {
		cmds = append(cmds, fmt.Sprintf("git fetch origin '+refs/pull/%d/head'", conf.Event.PRNumber))
	} else if conf.Event.Branch != "" {
		cmds = append(cmds, fmt.Sprintf("git fetch origin '%s'", conf.Event.Branch))
	}
	if conf.Event.Revision != "" {
		cmds = append(cmds, fmt.Sprintf("git checkout '%s'", conf.Event.Revision))
	}

	return strings.Join(cmds, "\n")
}

func (c *gitCheckout) redact(s string) string {
	if c.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.Token, "[redacted]")
}
