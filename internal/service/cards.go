package service

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/activity"
	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/events"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/ordering"
	"github.com/and161185/kanban-keeper/internal/repository"
)

// Activity page bounds.
const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// CardService implements card mutations and reads.
type CardService struct{ core }

// NewCardService constructs a CardService.
func NewCardService(d Deps) *CardService { return &CardService{core: newCore(d)} }

// Create appends a new card at the end of its column.
func (s *CardService) Create(ctx context.Context, userID uuid.UUID, in model.NewCard) (*model.Card, error) {
	in.Title = cleanText(in.Title)
	in.Description = cleanBody(in.Description)
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	var issues []errs.Issue
	if is := checkText(in.Title, "title", 1, maxTitleLen); is != nil {
		issues = append(issues, *is)
	}
	if is := checkText(in.Description, "description", 0, maxDescriptionLen); is != nil {
		issues = append(issues, *is)
	}
	if !in.Priority.IsValid() {
		issues = append(issues, errs.Issue{Path: "priority", Message: "must be low, medium or high"})
	}
	if in.Weight != nil && *in.Weight < 0 {
		issues = append(issues, errs.Issue{Path: "weight", Message: "must be >= 0"})
	}
	if len(issues) > 0 {
		return nil, errs.Validation("invalid card", issues...)
	}

	boardID, err := s.reader.ColumnBoard(ctx, in.ColumnID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	var card *model.Card
	err = s.inTx(ctx, "card.create", func(ctx context.Context, tx repository.BoardTx) error {
		sibs, err := tx.CardSiblings(ctx, in.ColumnID)
		if err != nil {
			return err
		}
		c := &model.Card{
			ID:          id,
			ColumnID:    in.ColumnID,
			BoardID:     boardID,
			Title:       in.Title,
			Description: in.Description,
			Priority:    in.Priority,
			DueDate:     in.DueDate,
			Weight:      in.Weight,
			Order:       ordering.Place(sibs, len(sibs)).Order,
			LabelIDs:    []uuid.UUID{},
			AssigneeIDs: []uuid.UUID{},
		}
		if err := tx.InsertCard(ctx, c); err != nil {
			return err
		}
		s.rec.Record(ctx, tx, activity.Entry{
			CardID:  c.ID,
			UserID:  &userID,
			Action:  model.ActionCardCreated,
			Details: map[string]any{"title": c.Title, "columnId": c.ColumnID, "order": c.Order},
		})
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.CardCreated, boardID, userID, card))
	return card, nil
}

// Update applies a partial update. Temp ids succeed without effect.
func (s *CardService) Update(ctx context.Context, userID uuid.UUID, ref string, p model.CardPatch) error {
	cardID, temp, err := parseRef(ref, "cardId")
	if err != nil || temp {
		return err
	}
	if err := validatePatch(&p); err != nil {
		return err
	}
	if p.IsEmpty() {
		return nil
	}
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return err
	}

	err = s.inTx(ctx, "card.update", func(ctx context.Context, tx repository.BoardTx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if p.HasFieldChanges() {
			if err := tx.UpdateCardFields(ctx, cardID, p); err != nil {
				return err
			}
		}
		if err := tx.AddCardLabels(ctx, cardID, card.BoardID, p.LabelIDsToAdd); err != nil {
			return err
		}
		if err := tx.RemoveCardLabels(ctx, cardID, p.LabelIDsToRemove); err != nil {
			return err
		}
		if err := tx.AddAssignees(ctx, cardID, p.AssigneesToAdd); err != nil {
			return err
		}
		if err := tx.RemoveAssignees(ctx, cardID, p.AssigneesToRemove); err != nil {
			return err
		}
		action, details := patchActivity(p)
		s.rec.Record(ctx, tx, activity.Entry{CardID: cardID, UserID: &userID, Action: action, Details: details})
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.New(events.CardUpdated, boardID, userID, map[string]any{"id": cardID}))
	return nil
}

// validatePatch normalises text fields in place and checks the patch.
func validatePatch(p *model.CardPatch) error {
	var issues []errs.Issue
	if p.Title != nil {
		t := cleanText(*p.Title)
		p.Title = &t
		if is := checkText(t, "title", 1, maxTitleLen); is != nil {
			issues = append(issues, *is)
		}
	}
	if p.Description != nil {
		d := cleanBody(*p.Description)
		p.Description = &d
		if is := checkText(*p.Description, "description", 0, maxDescriptionLen); is != nil {
			issues = append(issues, *is)
		}
	}
	if p.Priority != nil && !p.Priority.IsValid() {
		issues = append(issues, errs.Issue{Path: "priority", Message: "must be low, medium or high"})
	}
	if p.Weight.Set && !p.Weight.Null && p.Weight.Value < 0 {
		issues = append(issues, errs.Issue{Path: "weight", Message: "must be >= 0"})
	}
	if len(issues) > 0 {
		return errs.Validation("invalid card update", issues...)
	}
	if overlaps(p.LabelIDsToAdd, p.LabelIDsToRemove) {
		return errs.BusinessRule("cannot add and remove the same label")
	}
	if overlaps(p.AssigneesToAdd, p.AssigneesToRemove) {
		return errs.BusinessRule("cannot add and remove the same assignee")
	}
	return nil
}

func overlaps(a, b []uuid.UUID) bool {
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// patchActivity picks one action for the whole request: the specific sub-resource
// action when that is the only change, card_updated otherwise.
func patchActivity(p model.CardPatch) (model.ActionType, map[string]any) {
	details := map[string]any{}
	var kinds []model.ActionType
	if p.HasFieldChanges() {
		var fields []string
		if p.Title != nil {
			fields = append(fields, "title")
		}
		if p.Description != nil {
			fields = append(fields, "description")
		}
		if p.Priority != nil {
			fields = append(fields, "priority")
		}
		if p.DueDate.Set {
			fields = append(fields, "dueDate")
		}
		if p.Weight.Set {
			fields = append(fields, "weight")
		}
		details["fields"] = fields
		kinds = append(kinds, model.ActionCardUpdated)
	}
	if len(p.LabelIDsToAdd) > 0 {
		details["labelsAdded"] = p.LabelIDsToAdd
		kinds = append(kinds, model.ActionLabelAdded)
	}
	if len(p.LabelIDsToRemove) > 0 {
		details["labelsRemoved"] = p.LabelIDsToRemove
		kinds = append(kinds, model.ActionLabelRemoved)
	}
	if len(p.AssigneesToAdd) > 0 {
		details["assigneesAdded"] = p.AssigneesToAdd
		kinds = append(kinds, model.ActionAssigneeAdded)
	}
	if len(p.AssigneesToRemove) > 0 {
		details["assigneesRemoved"] = p.AssigneesToRemove
		kinds = append(kinds, model.ActionAssigneeRemoved)
	}
	if len(kinds) == 1 {
		return kinds[0], details
	}
	return model.ActionCardUpdated, details
}

// Move relocates a card to index m.Order among the target column's other cards.
// Temp ids succeed without effect; moving to the current position is a no-op.
func (s *CardService) Move(ctx context.Context, userID uuid.UUID, ref string, m model.MoveCard) error {
	if model.IsTempID(ref) || model.IsTempID(m.TargetColumnID) {
		s.log.Debug("move of unconfirmed entity ignored", zap.String("card", ref), zap.String("column", m.TargetColumnID))
		return nil
	}
	if m.Order < 0 {
		return errs.Validation("order must be a non-negative integer",
			errs.Issue{Path: "order", Message: "must be >= 0"})
	}
	cardID, _, err := parseRef(ref, "cardId")
	if err != nil {
		return err
	}
	targetID, _, err := parseRef(m.TargetColumnID, "targetColumnId")
	if err != nil {
		return err
	}
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return err
	}

	var (
		moved    bool
		from, to ordering.Sibling
		renumber int
	)
	err = s.inTx(ctx, "card.move", func(ctx context.Context, tx repository.BoardTx) error {
		moved, renumber = false, 0
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		target, err := tx.GetColumn(ctx, targetID)
		if err != nil {
			return err
		}
		if target.BoardID != card.BoardID {
			return errs.Validation("cross-board moves are not supported",
				errs.Issue{Path: "targetColumnId", Message: "column belongs to another board"})
		}
		sibs, err := tx.CardSiblings(ctx, target.ID)
		if err != nil {
			return err
		}
		others := ordering.Without(sibs, card.ID)
		index := clampIndex(m.Order, len(others))
		if card.ColumnID == target.ID && ordering.IndexOf(sibs, card.ID) == index {
			return nil
		}

		p := ordering.Place(others, index)
		for _, r := range p.Renumbered {
			if err := tx.SetCardPosition(ctx, r.ID, target.ID, r.Order); err != nil {
				return err
			}
		}
		if err := tx.SetCardPosition(ctx, card.ID, target.ID, p.Order); err != nil {
			return err
		}
		from = ordering.Sibling{ID: card.ColumnID, Order: card.Order}
		to = ordering.Sibling{ID: target.ID, Order: p.Order}
		renumber = len(p.Renumbered)
		moved = true

		s.rec.Record(ctx, tx, activity.Entry{
			CardID: card.ID,
			UserID: &userID,
			Action: model.ActionCardMoved,
			Details: map[string]any{
				"fromColumnId": from.ID,
				"fromOrder":    from.Order,
				"toColumnId":   to.ID,
				"toOrder":      to.Order,
			},
		})
		return nil
	})
	if err != nil {
		return err
	}
	if moved {
		s.publish(ctx, events.New(events.CardMoved, boardID, userID, map[string]any{
			"id":         cardID,
			"columnId":   to.ID,
			"order":      to.Order,
			"renumbered": renumber > 0,
		}))
	}
	return nil
}

// Delete removes a card. Temp ids succeed without effect.
func (s *CardService) Delete(ctx context.Context, userID uuid.UUID, ref string) error {
	cardID, temp, err := parseRef(ref, "cardId")
	if err != nil || temp {
		return err
	}
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return err
	}
	err = s.inTx(ctx, "card.delete", func(ctx context.Context, tx repository.BoardTx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		s.rec.Record(ctx, tx, activity.Entry{
			CardID:  card.ID,
			UserID:  &userID,
			Action:  model.ActionCardDeleted,
			Details: map[string]any{"title": card.Title, "columnId": card.ColumnID},
		})
		return tx.DeleteCard(ctx, cardID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.New(events.CardDeleted, boardID, userID, map[string]any{"id": cardID}))
	return nil
}

// Get returns a card readable by userID.
func (s *CardService) Get(ctx context.Context, userID, cardID uuid.UUID) (*model.Card, error) {
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, boardID, userID, false); err != nil {
		return nil, err
	}
	return s.reader.GetCard(ctx, cardID)
}

// Activity returns the newest activity entries of a card. limit <= 0 selects the default.
func (s *CardService) Activity(ctx context.Context, userID, cardID uuid.UUID, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, boardID, userID, false); err != nil {
		return nil, err
	}
	return s.reader.ListActivity(ctx, cardID, limit)
}

// Comments lists a card's comments.
func (s *CardService) Comments(ctx context.Context, userID, cardID uuid.UUID) ([]model.Comment, error) {
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, boardID, userID, false); err != nil {
		return nil, err
	}
	return s.reader.ListComments(ctx, cardID)
}

// Comment adds a comment to a persisted card.
func (s *CardService) Comment(ctx context.Context, userID uuid.UUID, ref, body string) (*model.Comment, error) {
	cardID, temp, err := parseRef(ref, "cardId")
	if err != nil {
		return nil, err
	}
	if temp {
		return nil, errs.Validation("card is not persisted yet", errs.Issue{Path: "cardId", Message: "temporary id"})
	}
	body = cleanText(body)
	if is := checkText(body, "body", 1, maxCommentLen); is != nil {
		return nil, errs.Validation("invalid comment", *is)
	}
	boardID, err := s.reader.CardBoard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, boardID, userID, true); err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	var out *model.Comment
	err = s.inTx(ctx, "card.comment", func(ctx context.Context, tx repository.BoardTx) error {
		c := &model.Comment{ID: id, CardID: cardID, AuthorID: userID, Body: body}
		if err := tx.InsertComment(ctx, c); err != nil {
			return err
		}
		s.rec.Record(ctx, tx, activity.Entry{
			CardID:  cardID,
			UserID:  &userID,
			Action:  model.ActionCommentAdded,
			Details: map[string]any{"commentId": c.ID},
		})
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.CommentAdded, boardID, userID, out))
	return out, nil
}
