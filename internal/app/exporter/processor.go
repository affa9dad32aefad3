package exporter

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
	"github.com/sleroq/world-to-obsidian/internal/infra/exportfs"
)

const (
	stageCollection = "collection"
	stageContent    = "content"
	stageImage      = "image"
	stageWrite      = "write"
	stagePanic      = "panic"
	stageTimeout    = "timeout"

	thumbnailExt = ".webp"
)

var rowMarkerPattern = regexp.MustCompile(`##([^#]+)##`)

// contentBuilder renders the body of a record page.
type contentBuilder func(ctx context.Context, r *exportRun, rec worlddomain.Record) (string, error)

// thumbnailGenerator writes an image for rec as folder/filename. It reports
// false when the record has nothing to draw from.
type thumbnailGenerator func(ctx context.Context, r *exportRun, rec worlddomain.Record, folder, filename string) (bool, error)

// imageSlot selects the image slot of a record: a field path holding an image
// source, a generator, or neither.
type imageSlot struct {
	field    string
	generate thumbnailGenerator
}

type collectionDef struct {
	kind    worlddomain.Kind
	mapping worlddomain.FieldMapping
	image   imageSlot
	content contentBuilder
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

type collectionTemplates struct {
	page    string
	list    string
	wrapper string
	row     string
}

func (r *exportRun) processCollection(ctx context.Context, def collectionDef, records []worlddomain.Record, user worlddomain.User) (int, error) {
	kind := def.kind
	typeFolder := worlddomain.VaultPath(r.root, string(kind))
	if err := r.storage.CreateFolder(ctx, typeFolder); err != nil {
		return 0, fmt.Errorf("create %s folder: %w", kind, err)
	}

	tmpl, err := r.loadCollectionTemplates(kind)
	if err != nil {
		return 0, err
	}

	names := newNameAllocator()
	listName := "All " + string(kind)
	names.reserve("", listName)

	rows := map[string]string{}
	exported := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		r.reportProgress(kind)

		if !rec.HasAccess(user, worlddomain.OwnershipLimited) {
			r.summary.Skipped++
			r.processed++
			continue
		}

		key, row, err := r.exportRecord(ctx, def, tmpl, typeFolder, names, rec)
		r.processed++
		if err != nil {
			r.recordFailure(kind, rec, err)
			continue
		}
		rows[key] = row
		exported++
	}

	listing := buildListing(rows, tmpl.wrapper)
	page := worlddomain.Binding{"ASSETLIST": listing}.Apply(tmpl.list)
	if err := r.storage.UploadFile(ctx, []byte(page), listName+".md", typeFolder, true); err != nil {
		return exported, fmt.Errorf("write %s: %w", listName, err)
	}
	r.summary.Files++
	return exported, nil
}

func (r *exportRun) loadCollectionTemplates(kind worlddomain.Kind) (collectionTemplates, error) {
	prefix := kind.TemplatePrefix()
	out := collectionTemplates{
		page: r.loadTemplate(prefix + "-page"),
		list: r.loadTemplate(prefix + "-list"),
	}
	wrapper, row, err := splitTableTemplate(r.loadTemplate(prefix + "-table"))
	if err != nil {
		return collectionTemplates{}, fmt.Errorf("%s-table: %w", prefix, err)
	}
	out.wrapper = wrapper
	out.row = row
	return out, nil
}

// splitTableTemplate cuts a table template at its ##row## marker into the
// listing wrapper (text before the marker) and the row template.
func splitTableTemplate(tmpl string) (wrapper, row string, err error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", "", nil
	}
	loc := rowMarkerPattern.FindStringSubmatchIndex(tmpl)
	if loc == nil {
		return "", "", ErrMalformedTemplate
	}
	return tmpl[:loc[0]], tmpl[loc[2]:loc[3]], nil
}

func (r *exportRun) reportProgress(kind worlddomain.Kind) {
	percent := 100.0
	if r.total > 0 {
		percent = 100 * float64(r.processed) / float64(r.total)
	}
	r.progress.SetProgress(percent, r.messages.Sprintf("export.exporting_type", string(kind)))
}

// exportRecord renders and writes one record page and returns its listing
// key and row. Panics are turned into errors so the batch carries on.
func (r *exportRun) exportRecord(ctx context.Context, def collectionDef, tmpl collectionTemplates, typeFolder string, names *nameAllocator, rec worlddomain.Record) (key, row string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &stageError{stage: stagePanic, err: fmt.Errorf("%v", p)}
		}
	}()

	if r.recordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.recordTimeout)
		defer cancel()
	}

	relFolder := worlddomain.FolderPath(rec.Folder)
	folder := worlddomain.VaultPath(typeFolder, relFolder)
	name := names.allocate(relFolder, recordBaseName(rec))
	link := worlddomain.VaultPath(string(def.kind), relFolder, name)

	page := worlddomain.Binding{"ASSETNAME": rec.Name}.Bind(rec, def.mapping)
	line := worlddomain.Binding{"ASSETNAME": "[[" + link + "\\|" + name + "]]"}.Bind(rec, def.mapping)

	page["ASSETCONTENT"] = ""
	if def.content != nil {
		body, err := def.content(ctx, r, rec)
		if err != nil {
			return "", "", r.stageFailure(ctx, stageContent, err)
		}
		page["ASSETCONTENT"] = body
	}

	pageImg, rowImg, err := r.resolveImage(ctx, def, rec, folder, relFolder, name)
	if err != nil {
		return "", "", r.stageFailure(ctx, stageImage, err)
	}
	page["ASSETIMG"] = pageImg
	line["ASSETIMG"] = rowImg

	body := page.Apply(tmpl.page)
	if r.frontmatter {
		fm, err := renderFrontmatter(rec, relFolder, name)
		if err != nil {
			return "", "", r.stageFailure(ctx, stageWrite, err)
		}
		body = fm + body
	}

	fileName := name + ".md"
	if err := r.storage.UploadFile(ctx, []byte(body), fileName, folder, true); err != nil {
		return "", "", r.stageFailure(ctx, stageWrite, err)
	}
	r.summary.Files++
	r.applyFileTimes(rec, path.Join(folder, fileName))

	return relFolder + "/" + name, line.Apply(tmpl.row) + "\n", nil
}

func (r *exportRun) stageFailure(ctx context.Context, stage string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		stage = stageTimeout
	}
	return &stageError{stage: stage, err: err}
}

func (r *exportRun) recordFailure(kind worlddomain.Kind, rec worlddomain.Record, err error) {
	stage := ""
	if se, ok := err.(*stageError); ok {
		stage = se.stage
		err = se.err
	}
	r.log.Error("record export failed", "kind", kind, "record", rec.ID, "name", rec.Name, "stage", stage, "error", err)
	r.summary.Failures = append(r.summary.Failures, worlddomain.Failure{
		Kind:       kind,
		RecordID:   rec.ID,
		RecordName: rec.Name,
		Stage:      stage,
		Message:    err.Error(),
	})
}

// resolveImage fills the image slot for the page and for the listing row.
func (r *exportRun) resolveImage(ctx context.Context, def collectionDef, rec worlddomain.Record, folder, relFolder, name string) (pageImg, rowImg string, err error) {
	switch {
	case def.image.generate != nil:
		filename := name + thumbnailExt
		ok, err := def.image.generate(ctx, r, rec, folder, filename)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", nil
		}
		target := worlddomain.VaultPath(string(def.kind), relFolder, filename)
		return vaultImage(target, 150, false), vaultImage(target, 100, true), nil

	case def.image.field != "":
		src := strings.TrimSpace(rec.Field(def.image.field))
		if src == "" {
			return "", "", nil
		}
		if isRemoteSource(src) {
			return "![" + name + "|150](" + src + ")", "![" + name + "\\|100](" + src + ")", nil
		}

		ext := sourceExt(src)
		data, ok := r.fetchBinary(ctx, stripQuery(src))
		if ext == "" && ok {
			ext = exportfs.DetectFileExtensionFromContent(data)
		}
		filename := name + ext
		if ok {
			r.storeBinary(ctx, data, src, filename, folder, true)
		}
		target := worlddomain.VaultPath(string(def.kind), relFolder, filename)
		return vaultImage(target, 150, false), vaultImage(target, 100, true), nil
	}
	return "", "", nil
}

func vaultImage(target string, size int, inTable bool) string {
	sep := "|"
	if inTable {
		sep = "\\|"
	}
	return fmt.Sprintf("![[%s%s%d]]", target, sep, size)
}

// sourceExt returns the dotted extension of the last path segment of src,
// ignoring any query or fragment.
func sourceExt(src string) string {
	src = stripQuery(src)
	if i := strings.LastIndex(src, "/"); i >= 0 {
		src = src[i+1:]
	}
	ext := path.Ext(src)
	if ext == "." {
		return ""
	}
	return ext
}

func (r *exportRun) applyFileTimes(rec worlddomain.Record, file string) {
	setter, ok := r.storage.(FileTimesSetter)
	if !ok {
		return
	}
	if rec.Stats.Created.IsZero() && rec.Stats.Modified.IsZero() {
		return
	}
	if err := setter.SetFileTimes(file, rec.Stats.Created, rec.Stats.Modified); err != nil {
		r.log.Debug("set file times", "file", file, "error", err)
	}
}
