package exporter

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

var collectionDefs = map[worlddomain.Kind]collectionDef{
	worlddomain.KindScenes: {
		kind: worlddomain.KindScenes,
		mapping: worlddomain.FieldMapping{
			{Placeholder: "SCENEWIDTH", Path: "width"},
			{Placeholder: "SCENEHEIGHT", Path: "height"},
		},
		image: imageSlot{generate: sceneThumbnail},
	},
	worlddomain.KindActors: {
		kind: worlddomain.KindActors,
		mapping: worlddomain.FieldMapping{
			{Placeholder: "ACTORHPCUR", Path: "system.attributes.hp.value"},
			{Placeholder: "ACTORHPMAX", Path: "system.attributes.hp.max"},
		},
		image:   imageSlot{field: "img"},
		content: actorContent,
	},
	worlddomain.KindItems: {
		kind: worlddomain.KindItems,
		mapping: worlddomain.FieldMapping{
			{Placeholder: "ITEMQUANTITY", Path: "system.quantity"},
			{Placeholder: "ITEMWEIGHT", Path: "system.weight"},
			{Placeholder: "ITEMPRICE", Path: "system.price.value"},
			{Placeholder: "ITEMCURRENCY", Path: "system.price.denomination"},
		},
		image:   imageSlot{field: "img"},
		content: itemContent,
	},
	worlddomain.KindArticles: {
		kind: worlddomain.KindArticles,
		mapping: worlddomain.FieldMapping{
			{Placeholder: "PAGES", Path: "#pages"},
		},
		content: articleContent,
	},
	worlddomain.KindTables: {
		kind: worlddomain.KindTables,
		mapping: worlddomain.FieldMapping{
			{Placeholder: "TABLEFORMULA", Path: "formula"},
		},
		image:   imageSlot{field: "img"},
		content: tableContent,
	},
}

func actorContent(ctx context.Context, r *exportRun, rec worlddomain.Record) (string, error) {
	if rec.Actor == nil {
		return "", fmt.Errorf("actor %s has no actor data", rec.ID)
	}
	if body := r.richText(ctx, rec.Actor.Biography); body != "" {
		return body, nil
	}
	return "*No biography*", nil
}

func itemContent(ctx context.Context, r *exportRun, rec worlddomain.Record) (string, error) {
	if rec.Item == nil {
		return "", fmt.Errorf("item %s has no item data", rec.ID)
	}
	if body := r.richText(ctx, rec.Item.Description); body != "" {
		return body, nil
	}
	return "*No description*", nil
}

func articleContent(ctx context.Context, r *exportRun, rec worlddomain.Record) (string, error) {
	if rec.Article == nil {
		return "", fmt.Errorf("article %s has no pages", rec.ID)
	}
	var b strings.Builder
	for _, page := range rec.Article.Pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b.WriteString("---\n\n## " + page.Name + "\n\n")
		body := r.richText(ctx, page.Content)
		if body == "" {
			body = "*No content*"
		}
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func tableContent(ctx context.Context, r *exportRun, rec worlddomain.Record) (string, error) {
	if rec.Table == nil {
		return "", fmt.Errorf("table %s has no table data", rec.ID)
	}
	return r.richText(ctx, rec.Table.Description) + "\n\n" + r.renderResultsTable(rec.Table.Results), nil
}

// sceneThumbnail stores the scene's thumbnail, or its background when no
// thumbnail was rendered, as folder/filename. Inline data URIs are decoded
// directly; anything else goes through the storage backend.
func sceneThumbnail(ctx context.Context, r *exportRun, rec worlddomain.Record, folder, filename string) (bool, error) {
	if rec.Scene == nil {
		return false, nil
	}
	src := strings.TrimSpace(rec.Scene.Thumb)
	if src == "" {
		src = strings.TrimSpace(rec.Scene.Background)
	}
	if src == "" {
		return false, nil
	}

	if strings.HasPrefix(strings.ToLower(src), "data:") {
		data, err := decodeDataURI(src)
		if err != nil {
			r.summary.BrokenAssets++
			r.log.Warn("could not decode scene thumbnail", "scene", rec.ID, "error", err)
			return true, nil
		}
		r.storeBinary(ctx, data, "data URI", filename, folder, true)
		return true, nil
	}

	r.uploadBinary(ctx, src, filename, folder, true)
	return true, nil
}

func decodeDataURI(src string) ([]byte, error) {
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, fmt.Errorf("data uri has no payload")
	}
	meta, payload := src[len("data:"):comma], src[comma+1:]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return data, nil
}
