package pdf

import "path/filepath"

func toJobPages(stored []storedPage) []JobPage {
	pages := make([]JobPage, len(stored))
	for i, sp := range stored {
		pages[i] = JobPage{
			StoredName:   filepath.Base(sp.path),
			UnitID:       sp.unitID,
			OriginalName: sp.originalName,
			MediaType:    sp.mediaType,
			Size:         sp.size,
			Rotation:     sp.rotation,
		}
	}
	return pages
}

func storedPagesFromManifest(ws workspace, manifest *JobManifest) []storedPage {
	if manifest == nil {
		return nil
	}
	stored := make([]storedPage, len(manifest.Pages))
	for i, p := range manifest.Pages {
		stored[i] = storedPage{
			path:         filepath.Join(ws.inDir, p.StoredName),
			unitID:       p.UnitID,
			originalName: p.OriginalName,
			mediaType:    p.MediaType,
			size:         p.Size,
			rotation:     p.Rotation,
		}
	}
	return stored
}
