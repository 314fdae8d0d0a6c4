package engine

import (
	"context"

	"deskline/internal/domain"
)

// SubmitText absorbs free text from an actor. Text only means something in
// the two text-expecting states; anywhere else it is dropped so a stray
// message cannot corrupt a flow.
func (e *Engine) SubmitText(ctx context.Context, actorID, text string) (Outcome, error) {
	actor, stop, err := e.admit(ctx, actorID)
	if err != nil {
		return Outcome{}, err
	}
	if stop != nil {
		return *stop, nil
	}
	sess, exists := e.Sessions.Get(actor.ID)
	if !exists {
		return outcomeIgnored(), nil
	}
	switch sess.State {
	case domain.StateEnteringRequest:
		return e.requestTextEntered(ctx, actor, sess, text)
	case domain.StateWritingAnswer:
		return e.answerTextEntered(ctx, actor, sess, text)
	default:
		return outcomeIgnored(), nil
	}
}

// HandleAction absorbs one tapped control or API action. Confirm and edit
// are overloaded between the requester and fulfiller flows and dispatch on
// the actor's session state; everything else is state-free and guarded by
// the request's current status instead.
func (e *Engine) HandleAction(ctx context.Context, in ActionInput) (Outcome, error) {
	actor, stop, err := e.admit(ctx, in.ActorID)
	if err != nil {
		return Outcome{}, err
	}
	if stop != nil {
		return *stop, nil
	}
	switch in.Name {
	case ActionNewRequest:
		return e.startRequestFlow(ctx, actor)
	case ActionCategory:
		return e.categoryChosen(ctx, actor, in.CategoryID)
	case ActionBack:
		return e.stepBack(ctx, actor)
	case ActionConfirm:
		return e.confirm(ctx, actor)
	case ActionEdit:
		return e.edit(ctx, actor)
	case ActionTake:
		return e.takeRequest(ctx, actor, in.RequestID)
	case ActionReject:
		return e.rejectAssignment(ctx, actor, in.RequestID)
	case ActionApprove:
		return e.approveRequest(ctx, actor, in.RequestID)
	case ActionDecline:
		return e.declineRequest(ctx, actor, in.RequestID, in.Comment)
	case ActionApproveAnswer:
		return e.approveAnswer(ctx, actor, in.RequestID, in.Comment)
	case ActionDeclineAnswer:
		return e.declineAnswer(ctx, actor, in.RequestID, in.Comment)
	default:
		return outcomeIgnored(), nil
	}
}

func (e *Engine) confirm(ctx context.Context, actor domain.Actor) (Outcome, error) {
	sess, exists := e.Sessions.Get(actor.ID)
	if !exists {
		return outcomeIgnored(), nil
	}
	switch sess.State {
	case domain.StateConfirmingRequest:
		return e.confirmRequest(ctx, actor)
	case domain.StateConfirmingAnswer:
		return e.confirmAnswer(ctx, actor, sess)
	default:
		return outcomeIgnored(), nil
	}
}

func (e *Engine) edit(ctx context.Context, actor domain.Actor) (Outcome, error) {
	sess, exists := e.Sessions.Get(actor.ID)
	if !exists {
		return outcomeIgnored(), nil
	}
	switch sess.State {
	case domain.StateConfirmingRequest:
		return e.editRequest(ctx, actor)
	case domain.StateConfirmingAnswer:
		return e.editAnswer(ctx, actor)
	default:
		return outcomeIgnored(), nil
	}
}
