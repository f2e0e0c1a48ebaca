package cr

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ImportResult counts what ImportTree created or overwrote.
type ImportResult struct {
	Folders int
	Files   int
}

// ImportTree mirrors a scanned local tree below folderID. Directories are
// created one by one in the order given, which must list parents before
// children; files are then created concurrently. Existing objects with the
// same name are reused, so importing the same tree twice is harmless.
func (s *CRService) ImportTree(ctx context.Context, principal Principal, folderID ObjectID, channel NodeID, entries []ImportEntry) (*ImportResult, error) {
	folders := map[string]ObjectID{"": folderID}
	result := &ImportResult{}

	var files []ImportEntry
	for _, e := range entries {
		rel := strings.Trim(path.Clean(e.RelPath), "/")
		if rel == "." || rel == "" {
			continue
		}
		if !e.IsDir {
			files = append(files, ImportEntry{RelPath: rel, Size: e.Size})
			continue
		}

		parent, err := importParent(folders, rel)
		if err != nil {
			return result, err
		}
		obj, err := s.CreateObject(ctx, principal, CreateRequest{
			FolderID:   parent,
			ChannelID:  channel,
			Type:       TypeFolder,
			Name:       path.Base(rel),
			OnConflict: ConflictOverwrite,
		})
		if err != nil {
			return result, fmt.Errorf("importing folder %s: %w", rel, err)
		}
		folders[rel] = obj.ChannelSetID
		result.Folders++
	}

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.importLimit)
	for _, f := range files {
		parent, err := importParent(folders, f.RelPath)
		if err != nil {
			return result, err
		}
		g.Go(func() error {
			_, err := s.CreateObject(gctx, principal, CreateRequest{
				FolderID:   parent,
				ChannelID:  channel,
				Type:       fileType(f.RelPath),
				Name:       path.Base(f.RelPath),
				Size:       f.Size,
				OnConflict: ConflictOverwrite,
			})
			if err != nil {
				return fmt.Errorf("importing file %s: %w", f.RelPath, err)
			}
			created.Add(1)
			return nil
		})
	}
	err := g.Wait()
	result.Files = int(created.Load())
	if err != nil {
		return result, err
	}

	s.logger.Info("tree imported", "folder", folderID, "channel", channel, "folders", result.Folders, "files", result.Files)
	return result, nil
}

func importParent(folders map[string]ObjectID, rel string) (ObjectID, error) {
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	id, ok := folders[dir]
	if !ok {
		return 0, fmt.Errorf("import of %s: parent directory %q not listed before it", rel, dir)
	}
	return id, nil
}

// fileType guesses the object type from the extension.
func fileType(name string) ObjectType {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return TypePage
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return TypeImage
	default:
		return TypeFile
	}
}
