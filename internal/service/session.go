package service

import (
	"context"
	"fmt"
	"strings"

	"posledger/internal/domain"
	"posledger/internal/store"
)

const maxSessionFieldLen = 128

// UpsertSession returns the session identified by (type, custom_code,
// origin), creating it on first use. Repeated calls only touch updated_at.
func (s *Service) UpsertSession(ctx context.Context, req domain.SessionUpsertRequest) (domain.Session, error) {
	req.Type = strings.TrimSpace(req.Type)
	req.CustomCode = strings.TrimSpace(req.CustomCode)
	req.Origin = strings.TrimSpace(req.Origin)
	if req.Type == "" || req.CustomCode == "" || req.Origin == "" {
		return domain.Session{}, fmt.Errorf("%w: type, custom_code and origin are required", store.ErrValidation)
	}
	if len(req.Type) > maxSessionFieldLen || len(req.CustomCode) > maxSessionFieldLen || len(req.Origin) > maxSessionFieldLen {
		return domain.Session{}, fmt.Errorf("%w: session fields must be at most %d characters", store.ErrValidation, maxSessionFieldLen)
	}

	session, err := s.repo.UpsertSession(ctx, domain.Session{
		Type:       req.Type,
		CustomCode: req.CustomCode,
		Origin:     req.Origin,
	})
	if err != nil {
		return domain.Session{}, err
	}
	return *session, nil
}
