// Package roster manages list lifecycle and membership: default list
// bootstrap, join codes, and signed invite links. Role policy is enforced
// here; the store only persists what it is told.
package roster

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shoplist/internal/list"
	"shoplist/internal/store"
)

const (
	defaultListName  = "Shopping List"
	accessCodeLength = 6
	inviteLifetime   = 7 * 24 * time.Hour
)

// Ambiguous characters (0/O, 1/I) are excluded so codes survive being read
// aloud or typed from a photo.
const accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrNotOwner      = errors.New("only the list owner may do this")
	ErrOwnerLeaving  = errors.New("the owner cannot leave the list")
	ErrListNotFound  = errors.New("list not found")
	ErrInvalidInvite = errors.New("invite token is invalid or expired")
	ErrAlreadyMember = errors.New("user is already a member of this list")
	ErrUnknownCode   = errors.New("no list matches this access code")
	ErrEmptyListName = errors.New("list name must not be empty")
)

// Service wraps a ListStore with membership policy.
type Service struct {
	lists      store.ListStore
	signingKey []byte
}

func NewService(lists store.ListStore, signingKey string) *Service {
	return &Service{lists: lists, signingKey: []byte(signingKey)}
}

// GetOrCreateDefaultList returns the user's first list, creating one on
// first contact so a fresh user always lands in a working list.
func (s *Service) GetOrCreateDefaultList(ctx context.Context, userID string) (*list.Summary, error) {
	lists, err := s.lists.FetchUserLists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user lists: %w", err)
	}
	if len(lists) > 0 {
		return &lists[0], nil
	}
	return s.CreateList(ctx, userID, defaultListName)
}

// CreateList creates a list owned by userID with a fresh access code.
func (s *Service) CreateList(ctx context.Context, userID, name string) (*list.Summary, error) {
	if name == "" {
		return nil, ErrEmptyListName
	}

	code, err := newAccessCode()
	if err != nil {
		return nil, err
	}

	summary, err := s.lists.CreateList(ctx, userID, name, code)
	if err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}
	if err := s.lists.UpsertMember(ctx, summary.ID, userID, list.RoleOwner); err != nil {
		return nil, fmt.Errorf("failed to register list owner: %w", err)
	}
	summary.Role = list.RoleOwner
	return summary, nil
}

// RenameList changes a list's name. Owner only.
func (s *Service) RenameList(ctx context.Context, userID, listID, name string) error {
	if name == "" {
		return ErrEmptyListName
	}
	if err := s.requireOwner(ctx, userID, listID); err != nil {
		return err
	}
	if err := s.lists.RenameList(ctx, listID, name); err != nil {
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}

// LeaveList removes the caller from a list. Owners cannot leave; they would
// strand the list without anyone able to manage it.
func (s *Service) LeaveList(ctx context.Context, userID, listID string) error {
	member, err := s.findMember(ctx, listID, userID)
	if err != nil {
		return err
	}
	if member.Role == list.RoleOwner {
		return ErrOwnerLeaving
	}
	if err := s.lists.RemoveMember(ctx, listID, userID); err != nil {
		return fmt.Errorf("failed to leave list: %w", err)
	}
	return nil
}

// JoinByAccessCode adds the user as an editor of the list carrying the code.
func (s *Service) JoinByAccessCode(ctx context.Context, userID, code string) (*list.Summary, error) {
	summary, err := s.lists.FindListByAccessCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up access code: %w", err)
	}
	if summary == nil {
		return nil, ErrUnknownCode
	}

	if _, err := s.findMember(ctx, summary.ID, userID); err == nil {
		return nil, ErrAlreadyMember
	}

	if err := s.lists.UpsertMember(ctx, summary.ID, userID, list.RoleEditor); err != nil {
		return nil, fmt.Errorf("failed to join list: %w", err)
	}
	summary.Role = list.RoleEditor
	return summary, nil
}

// RegenerateAccessCode replaces the list's join code, invalidating the old
// one. Owner only.
func (s *Service) RegenerateAccessCode(ctx context.Context, userID, listID string) (string, error) {
	if err := s.requireOwner(ctx, userID, listID); err != nil {
		return "", err
	}
	code, err := newAccessCode()
	if err != nil {
		return "", err
	}
	if err := s.lists.SetAccessCode(ctx, listID, code); err != nil {
		return "", fmt.Errorf("failed to store access code: %w", err)
	}
	return code, nil
}

// CreateInvite signs a token granting role on listID for seven days.
func (s *Service) CreateInvite(userID, listID string, role list.Role) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"list_id": listID,
		"role":    string(role),
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(inviteLifetime).Unix(),
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign invite: %w", err)
	}
	return signed, nil
}

// AcceptInvite validates an invite token and adds the user with the role the
// token carries. An expired or tampered token yields ErrInvalidInvite.
func (s *Service) AcceptInvite(ctx context.Context, userID, tokenString string) (*list.Summary, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidInvite
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidInvite
	}
	listID, _ := claims["list_id"].(string)
	roleClaim, _ := claims["role"].(string)
	if listID == "" {
		return nil, ErrInvalidInvite
	}

	role := list.Role(roleClaim)
	switch role {
	case list.RoleEditor, list.RoleViewer:
	default:
		// Invites never grant ownership.
		role = list.RoleEditor
	}

	summary, err := s.lists.GetList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invited list: %w", err)
	}
	if summary == nil {
		return nil, ErrListNotFound
	}

	// An existing owner keeps ownership even when redeeming their own link.
	if member, err := s.findMember(ctx, listID, userID); err == nil && member.Role == list.RoleOwner {
		summary.Role = list.RoleOwner
		return summary, nil
	}

	if err := s.lists.UpsertMember(ctx, listID, userID, role); err != nil {
		return nil, fmt.Errorf("failed to accept invite: %w", err)
	}
	summary.Role = role
	return summary, nil
}

// Members returns the current membership of a list.
func (s *Service) Members(ctx context.Context, listID string) ([]list.Member, error) {
	members, err := s.lists.FetchMembers(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}
	return members, nil
}

// SubscribeMembers forwards membership change notifications.
func (s *Service) SubscribeMembers(listID string, h store.MemberHandlers) (func(), error) {
	return s.lists.SubscribeMembers(listID, h)
}

func (s *Service) requireOwner(ctx context.Context, userID, listID string) error {
	member, err := s.findMember(ctx, listID, userID)
	if err != nil {
		return err
	}
	if member.Role != list.RoleOwner {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) findMember(ctx context.Context, listID, userID string) (list.Member, error) {
	members, err := s.lists.FetchMembers(ctx, listID)
	if err != nil {
		return list.Member{}, fmt.Errorf("failed to fetch members: %w", err)
	}
	for _, m := range members {
		if m.UserID == userID {
			return m, nil
		}
	}
	return list.Member{}, fmt.Errorf("user %s is not a member of list %s", userID, listID)
}

func newAccessCode() (string, error) {
	code := make([]byte, accessCodeLength)
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate access code: %w", err)
		}
		code[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
