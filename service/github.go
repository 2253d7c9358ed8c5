package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/conveyor-ci/conveyor/model/event"
	"github.com/evergreen-ci/gimlet"
	"github.com/google/go-github/v52/github"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	refHeads = "refs/heads/"
	refTags  = "refs/tags/"
)

// githubHookApi unpacks a GitHub webhook delivery and dispatches runs
// for the pipelines whose triggers match it.
type githubHookApi struct {
	svc    *Service
	secret []byte

	event     interface{}
	eventType string
	msgID     string
}

func makeGithubHooksRoute(svc *Service, secret []byte) gimlet.RouteHandler {
	return &githubHookApi{
		svc:    svc,
		secret: secret,
	}
}

func (gh *githubHookApi) Factory() gimlet.RouteHandler {
	return &githubHookApi{
		svc:    gh.svc,
		secret: gh.secret,
	}
}

func (gh *githubHookApi) Parse(ctx context.Context, r *http.Request) error {
	gh.eventType = r.Header.Get("X-Github-Event")
	gh.msgID = r.Header.Get("X-Github-Delivery")

	if len(gh.secret) == 0 {
		return gimlet.ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Message:    "webhooks are not configured and therefore disabled",
		}
	}

	payload, err := github.ValidatePayload(r, gh.secret)
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"source":  "GitHub hook",
			"msg_id":  gh.msgID,
			"event":   gh.eventType,
			"message": "rejecting GitHub webhook",
		}))
		return errors.Wrap(err, "reading and validating GitHub request payload")
	}

	gh.event, err = github.ParseWebHook(gh.eventType, payload)
	if err != nil {
		return errors.Wrap(err, "parsing webhook")
	}

	return nil
}

func (gh *githubHookApi) Run(ctx context.Context) gimlet.Responder {
	switch ev := gh.event.(type) {
	case *github.PingEvent:
		if ev.HookID == nil {
			return gimlet.NewJSONErrorResponse(gimlet.ErrorResponse{
				StatusCode: http.StatusBadRequest,
				Message:    "malformed ping event",
			})
		}
		grip.Info(message.Fields{
			"source":  "GitHub hook",
			"msg_id":  gh.msgID,
			"event":   gh.eventType,
			"hook_id": ev.HookID,
		})

	case *github.PushEvent:
		return gh.handlePush(ctx, ev)

	case *github.PullRequestEvent:
		return gh.handlePullRequest(ctx, ev)
	}

	return gimlet.NewJSONResponse(struct{}{})
}

func (gh *githubHookApi) handlePush(ctx context.Context, pushEvent *github.PushEvent) gimlet.Responder {
	ref := pushEvent.GetRef()
	if isTag(ref) || pushEvent.GetDeleted() {
		return gimlet.NewJSONResponse(struct{}{})
	}

	ev := event.NewPush(
		gh.msgID,
		pushEvent.GetRepo().GetFullName(),
		strings.TrimPrefix(ref, refHeads),
		pushEvent.GetAfter(),
		pushEvent.GetSender().GetLogin(),
	)

	matched := gh.svc.DispatchEvent(ctx, ev)
	grip.Info(message.Fields{
		"source":      "GitHub hook",
		"msg_id":      gh.msgID,
		"event":       gh.eventType,
		"repo":        pushEvent.GetRepo().GetFullName(),
		"branch":      ev.Branch,
		"hash":        ev.Revision,
		"num_matched": len(matched),
		"message":     "processed push",
	})

	return newDispatchResponse(matched)
}

func (gh *githubHookApi) handlePullRequest(ctx context.Context, prEvent *github.PullRequestEvent) gimlet.Responder {
	if prEvent.Action == nil {
		err := gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    "pull request has no action",
		}
		grip.Error(message.WrapError(err, message.Fields{
			"source": "GitHub hook",
			"msg_id": gh.msgID,
			"event":  gh.eventType,
		}))

		return gimlet.NewJSONErrorResponse(err)
	}

	pr := prEvent.GetPullRequest()
	ev := event.NewPullRequest(
		gh.msgID,
		prEvent.GetRepo().GetFullName(),
		prEvent.GetNumber(),
		prEvent.GetAction(),
		pr.GetHead().GetRef(),
		pr.GetBase().GetRef(),
		pr.GetHead().GetSHA(),
		prEvent.GetSender().GetLogin(),
	)

	matched := gh.svc.DispatchEvent(ctx, ev)
	grip.Info(message.Fields{
		"source":      "GitHub hook",
		"msg_id":      gh.msgID,
		"event":       gh.eventType,
		"repo":        prEvent.GetRepo().GetFullName(),
		"pr_number":   prEvent.GetNumber(),
		"action":      prEvent.GetAction(),
		"hash":        ev.Revision,
		"num_matched": len(matched),
		"message":     "processed pull request",
	})

	return newDispatchResponse(matched)
}

func newDispatchResponse(matched []string) gimlet.Responder {
	return gimlet.NewJSONResponse(struct {
		Pipelines []string `json:"pipelines"`
	}{Pipelines: matched})
}

func isTag(ref string) bool {
	return strings.Contains(ref, refTags)
}
