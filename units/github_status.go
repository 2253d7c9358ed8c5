package units

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/evergreen-ci/utility"
	"github.com/google/go-github/v52/github"
	"github.com/jpillora/backoff"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	githubStatusUpdateJobName = "github-status-update"

	githubStatusError   = "error"
	githubStatusFailure = "failure"
	githubStatusPending = "pending"
	githubStatusSuccess = "success"

	githubStatusTimeout  = 10 * time.Second
	githubStatusAttempts = 3
)

func init() {
	registry.AddJobType(githubStatusUpdateJobName, func() amboy.Job { return makeGithubStatusUpdateJob() })
}

// githubStatusUpdateJob posts a commit status for the revision a run
// was triggered by.
type githubStatusUpdateJob struct {
	job.Base `bson:"job_base" json:"job_base" yaml:"job_base"`
	env      conveyor.Environment

	Owner       string `bson:"owner" json:"owner" yaml:"owner"`
	Repo        string `bson:"repo" json:"repo" yaml:"repo"`
	Ref         string `bson:"ref" json:"ref" yaml:"ref"`
	RunID       string `bson:"run_id" json:"run_id" yaml:"run_id"`
	Description string `bson:"description" json:"description" yaml:"description"`
	Context     string `bson:"context" json:"context" yaml:"context"`
	GHStatus    string `bson:"gh_status" json:"gh_status" yaml:"gh_status"`
}

func makeGithubStatusUpdateJob() *githubStatusUpdateJob {
	return &githubStatusUpdateJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    githubStatusUpdateJobName,
				Version: 0,
			},
		},
	}
}

// NewGithubStatusUpdateJobForRun creates a job that reports the run's
// current state to GitHub. The status context is reported as
// '[status context]/[pipeline name]'.
func NewGithubStatusUpdateJobForRun(env conveyor.Environment, rec *run.Run) amboy.Job {
	j := makeGithubStatusUpdateJob()
	j.env = env
	j.RunID = rec.ID
	j.Owner, j.Repo = splitRepo(rec.Event.Repo)
	j.Ref = rec.Event.Revision
	j.Context = fmt.Sprintf("%s/%s", env.Settings().Github.StatusContext, rec.PipelineName)

	switch rec.Status {
	case conveyor.StatusSucceeded:
		j.GHStatus = githubStatusSuccess
		j.Description = jobStatusToDesc(rec)
	case conveyor.StatusFailed:
		j.GHStatus = githubStatusFailure
		j.Description = jobStatusToDesc(rec)
	default:
		j.GHStatus = githubStatusPending
		j.Description = "jobs are running"
	}

	j.SetID(fmt.Sprintf("%s:%s-%s-%d", githubStatusUpdateJobName, rec.ID, j.GHStatus, job.GetNumber()))
	return j
}

// NewGithubStatusUpdateJobForEvent creates a job that marks the
// event's revision pending before any of the pipeline's jobs have run.
func NewGithubStatusUpdateJobForEvent(env conveyor.Environment, pipelineName string, ev event.Event) amboy.Job {
	j := makeGithubStatusUpdateJob()
	j.env = env
	j.Owner, j.Repo = splitRepo(ev.Repo)
	j.Ref = ev.Revision
	j.Context = fmt.Sprintf("%s/%s", env.Settings().Github.StatusContext, pipelineName)
	j.GHStatus = githubStatusPending
	j.Description = "jobs are running"
	j.SetID(fmt.Sprintf("%s:%s-%s-%d", githubStatusUpdateJobName, pipelineName, githubStatusPending, job.GetNumber()))
	return j
}

func splitRepo(fullName string) (string, string) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return fullName, ""
	}
	return parts[0], parts[1]
}

func (j *githubStatusUpdateJob) validate() error {
	if j.GHStatus != githubStatusPending && j.GHStatus != githubStatusSuccess &&
		j.GHStatus != githubStatusFailure && j.GHStatus != githubStatusError {
		return errors.Errorf("invalid github status '%s'", j.GHStatus)
	}
	if j.Owner == "" || j.Repo == "" || j.Ref == "" {
		return errors.New("status update requires an owner, repo, and ref")
	}
	return nil
}

func (j *githubStatusUpdateJob) sendStatusUpdate(ctx context.Context) error {
	settings := j.env.Settings()
	if !settings.Github.CanPostStatuses() {
		return errors.New("github is not configured for posting statuses")
	}

	httpClient := utility.GetOAuth2HTTPClient(settings.Github.Token)
	defer utility.PutHTTPClient(httpClient)
	client := github.NewClient(httpClient)

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < githubStatusAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Duration()):
			}
		}
		if err = j.postStatus(ctx, client); err == nil {
			return nil
		}
	}

	return err
}

func (j *githubStatusUpdateJob) postStatus(ctx context.Context, client *github.Client) error {
	newStatus := github.RepoStatus{
		Context:     github.String(j.Context),
		Description: github.String(j.Description),
		State:       github.String(j.GHStatus),
	}

	ctx, cancel := context.WithTimeout(ctx, githubStatusTimeout)
	defer cancel()
	status, resp, err := client.Repositories.CreateStatus(ctx, j.Owner, j.Repo, j.Ref, &newStatus)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return errors.Errorf("github status creation for %s/%s@%s: expected status code 201, got %d",
			j.Owner, j.Repo, j.Ref, resp.StatusCode)
	}
	if status == nil {
		return errors.New("nil response from github")
	}

	return nil
}

func (j *githubStatusUpdateJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.env == nil {
		j.env = conveyor.GetEnvironment()
	}

	if err := j.validate(); err != nil {
		j.AddError(err)
		return
	}

	if err := j.sendStatusUpdate(ctx); err != nil {
		j.AddError(err)
		grip.Error(message.WrapError(err, message.Fields{
			"message": "github API failure",
			"run_id":  j.RunID,
			"repo":    fmt.Sprintf("%s/%s", j.Owner, j.Repo),
			"ref":     j.Ref,
		}))
	}
}

func jobStatusToDesc(rec *run.Run) string {
	succeeded := 0
	failed := 0
	aborted := 0
	for _, jobRes := range rec.Jobs {
		switch jobRes.Status {
		case conveyor.StatusSucceeded:
			succeeded++
		case conveyor.StatusFailed:
			failed++
		case conveyor.StatusAborted:
			aborted++
		}
	}

	if succeeded == 0 && failed == 0 && aborted == 0 {
		return "no jobs were run"
	}
	if failed == 0 && aborted == 0 {
		return fmt.Sprintf("all jobs succeeded in %s", rec.Duration().String())
	}
	if succeeded == 0 {
		return "all jobs failed"
	}

	desc := fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
	if aborted > 0 {
		desc += fmt.Sprintf(", %d aborted", aborted)
	}
	return desc
}
