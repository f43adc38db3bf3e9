package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// CheckoutRequest identifies one member revision and where to write it.
type CheckoutRequest struct {
	ConfigPath       string
	MemberID         string
	Revision         string
	TargetFile       string
	LineTerminator   string
	RestoreTimestamp bool
}

// CheckoutMember writes a single member revision to a local file without locking.
func CheckoutMember(ctx context.Context, s Session, req CheckoutRequest) error {
	cmd := NewCommand("projectco").
		With("project", req.ConfigPath).
		With("targetFile", req.TargetFile).
		With("revision", req.Revision).
		Flag("nolock").
		Flag("overwriteExisting")
	if req.LineTerminator != "" {
		cmd.With("lineTerminator", req.LineTerminator)
	}
	if req.RestoreTimestamp {
		cmd.Flag("restoreTimestamp")
	} else {
		cmd.Flag("norestoreTimestamp")
	}
	cmd.Select(req.MemberID)
	if _, err := s.Run(ctx, cmd); err != nil {
		return fmt.Errorf("checking out %s rev %s: %w", req.MemberID, req.Revision, err)
	}
	return nil
}

// MemberAuthor returns the author of a member revision, or "" if the server
// did not report one.
func MemberAuthor(ctx context.Context, s Session, configPath, memberID, revision string) (string, error) {
	cmd := NewCommand("revisioninfo").
		With("project", configPath).
		With("revision", revision).
		Select(memberID)
	resp, err := s.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("fetching author of %s rev %s: %w", memberID, revision, err)
	}
	wi := resp.FirstWorkItem()
	if wi == nil {
		return "", nil
	}
	author, _ := wi.Field("author")
	return author, nil
}

// CreateChangePackage opens a change package against an item and returns its ID.
func CreateChangePackage(ctx context.Context, s Session, itemID, summary string) (string, error) {
	cmd := NewCommand("createcp").
		With("issueId", itemID).
		With("summary", summary).
		With("description", summary)
	resp, err := s.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("creating change package for item %s: %w", itemID, err)
	}
	if resp.ResultID == "" {
		return "", fmt.Errorf("creating change package for item %s: no change package id returned", itemID)
	}
	return resp.ResultID, nil
}

// SubmitChangePackage closes and commits a change package.
func SubmitChangePackage(ctx context.Context, s Session, cpid string) error {
	cmd := NewCommand("submitcp").
		Flag("closeCP").
		Flag("commit").
		Select(cpid)
	if _, err := s.Run(ctx, cmd); err != nil {
		return fmt.Errorf("submitting change package %s: %w", cpid, err)
	}
	return nil
}

// LockMember locks the member's working revision under a change package.
func LockMember(ctx context.Context, s Session, configPath, member, cpid string) error {
	cmd := NewCommand("lock").
		With("project", configPath).
		With("cpid", cpid).
		Select(member)
	if _, err := s.Run(ctx, cmd); err != nil {
		return fmt.Errorf("locking %s: %w", member, err)
	}
	return nil
}

// CheckinMember checks a local file in as a new revision of an existing member.
func CheckinMember(ctx context.Context, s Session, configPath, member, sourceFile, cpid, description string) error {
	cmd := NewCommand("ci").
		With("project", configPath).
		With("cpid", cpid).
		With("sourceFile", sourceFile).
		With("description", description).
		Select(member)
	if _, err := s.Run(ctx, cmd); err != nil {
		return fmt.Errorf("checking in %s: %w", member, err)
	}
	return nil
}

// AddMember adds a local file to the project as a new member.
func AddMember(ctx context.Context, s Session, configPath, member, sourceFile, cpid, description string) error {
	cmd := NewCommand("add").
		With("project", configPath).
		With("cpid", cpid).
		With("sourceFile", sourceFile).
		With("description", description).
		With("onExistingArchive", "sharearchive").
		Select(member)
	if _, err := s.Run(ctx, cmd); err != nil {
		return fmt.Errorf("adding %s: %w", member, err)
	}
	return nil
}

// Checksum returns the hex SHA-256 of the reader's content.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("computing checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
