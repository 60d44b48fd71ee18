package invitations

import (
	"context"
	"fmt"

	"github.com/huddlehq/huddle/internal/directory"
)

// EnsureDirectoryOrganization returns the directory organization linked to the workspace,
// finding or creating it when the workspace is not yet linked.
//
// No lock is taken. The link is written only if still unset and then re-read, so concurrent
// callers all return whichever organization won. An existing organization keyed by the
// workspace id is reused, which also recovers a link lost to a local restore. It returns
// "" when no directory is configured.
func (s *Service) EnsureDirectoryOrganization(ctx context.Context, workspaceID string) (string, error) {
	if s.directory == nil {
		return "", nil
	}

	q := s.tx.Querier()
	workspace, err := s.workspaces.GetByID(ctx, q, workspaceID)
	if err != nil {
		return "", err
	}
	if workspace == nil {
		return "", ErrWorkspaceNotFound
	}
	if workspace.DirectoryOrganizationID != nil && *workspace.DirectoryOrganizationID != "" {
		return *workspace.DirectoryOrganizationID, nil
	}

	org, err := s.directory.GetOrganizationByExternalKey(ctx, workspaceID)
	if err != nil {
		return "", err
	}

	if org == nil {
		org, err = s.directory.CreateOrganization(ctx, directory.CreateOrganizationInput{
			Name:        workspace.Name,
			ExternalKey: workspaceID,
		})
		if directory.IsExternalKeyConflict(err) {
			s.logger.Warn("directory organization created concurrently, looking it up", "workspace_id", workspaceID)
			org, err = s.directory.GetOrganizationByExternalKey(ctx, workspaceID)
			if err == nil && org == nil {
				err = fmt.Errorf("directory reported external key %q in use but has no such organization", workspaceID)
			}
		}
		if err != nil {
			return "", err
		}
	}

	linked, err := s.workspaces.SetDirectoryOrganizationIDIfUnset(ctx, q, workspaceID, org.ID)
	if err != nil {
		return "", err
	}
	if !linked {
		s.logger.Debug("workspace linked concurrently", "workspace_id", workspaceID, "organization_id", org.ID)
	}

	workspace, err = s.workspaces.GetByID(ctx, q, workspaceID)
	if err != nil {
		return "", err
	}
	if workspace == nil || workspace.DirectoryOrganizationID == nil {
		return "", fmt.Errorf("workspace %s has no directory organization after linking", workspaceID)
	}

	if linked {
		s.logger.Info("workspace linked to directory organization", "workspace_id", workspaceID, "organization_id", *workspace.DirectoryOrganizationID)
	}
	return *workspace.DirectoryOrganizationID, nil
}
