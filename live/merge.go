package live

import (
	"context"
	"fmt"

	"github.com/stagelink/connect/channel"
	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/stage"
)

// MergeTarget selects where a session's edits end up.
type MergeTarget int

const (
	// MergeToRoot folds the live layer's edits directly into the stage's
	// root layer.
	MergeToRoot MergeTarget = iota
	// MergeToNewLayer writes the live layer's edits to a new layer file
	// next to the stage and mounts it as the stage's strongest sublayer.
	MergeToNewLayer
)

// Merge folds the session's edits into the base stage and empties the
// live layer. Only the session owner may merge. Other participants are
// told to stop editing for the duration via merge started and finished
// messages, and the stage is checkpointed before and after when the
// server supports checkpoints.
func (s *Session) Merge(ctx context.Context, target MergeTarget) error {
	if !s.IsOwner() {
		return fmt.Errorf("merge session %q: only the owner (%s) may merge", s.info.Name, s.cfg.UserName)
	}

	if err := s.mgr.Send(channel.TypeMergeStarted, nil); err != nil {
		return err
	}
	if err := s.Update(ctx); err != nil {
		return err
	}

	checkpoints := false
	if info, err := s.client.ServerInfo(ctx, s.info.StageURL); err == nil {
		checkpoints = info.CheckpointsEnabled
	}
	if checkpoints {
		comment := fmt.Sprintf("Pre-merge snapshot for session %s", s.info.Name)
		if _, err := s.client.CreateCheckpoint(ctx, s.info.StageURL, comment, true); err != nil {
			s.lggr.Warnw("Pre-merge checkpoint failed", "stage", s.info.StageURL, "err", err)
		}
	}

	root := s.stg.RootLayer()
	switch target {
	case MergeToRoot:
		mergeLayerInto(root, s.layer)
	case MergeToNewLayer:
		newURL, err := s.writeMergedLayer(ctx)
		if err != nil {
			return err
		}
		root.SubLayers = append([]string{newURL}, root.SubLayers...)
		root.SetDirty()
		s.lggr.Infow("Merged session into new sublayer", "session", s.info.Name, "layer", newURL)
	default:
		return fmt.Errorf("merge session %q: unknown merge target %d", s.info.Name, target)
	}

	// Publish the emptied live layer so every participant sees the
	// session content move into the base stage.
	s.layer.Clear()
	if err := s.stg.LiveProcess(ctx); err != nil {
		return err
	}
	if err := s.stg.Save(ctx); err != nil {
		return err
	}

	if checkpoints {
		comment := fmt.Sprintf("Merged session %s", s.info.Name)
		if _, err := s.client.CreateCheckpoint(ctx, s.info.StageURL, comment, true); err != nil {
			s.lggr.Warnw("Post-merge checkpoint failed", "stage", s.info.StageURL, "err", err)
		}
	}

	if err := s.mgr.Send(channel.TypeMergeFinished, nil); err != nil {
		return err
	}

	return s.mgr.Update(ctx)
}

// writeMergedLayer stores the live layer's content as
// <stage>_<session>.<ext> next to the stage file.
func (s *Session) writeMergedLayer(ctx context.Context) (string, error) {
	stem, ext := client.Stem(s.info.StageURL)
	newURL := client.Join(client.Dir(s.info.StageURL), stem+"_"+s.info.Name+ext)

	// Round-trip through the encoding for a deep copy bound to the new
	// identifier.
	data, err := s.layer.Encode()
	if err != nil {
		return "", err
	}
	merged, err := stage.DecodeLayer(newURL, data)
	if err != nil {
		return "", err
	}
	encoded, err := merged.Encode()
	if err != nil {
		return "", err
	}
	if err := s.client.WriteFile(ctx, newURL, encoded); err != nil {
		return "", fmt.Errorf("write merged layer %s: %w", newURL, err)
	}

	return newURL, nil
}

// mergeLayerInto copies every spec of src over dst. The session's edits
// are newer than the base content, so on any conflict src wins.
func mergeLayerInto(dst, src *stage.Layer) {
	if src.DefaultPrim != "" {
		dst.DefaultPrim = src.DefaultPrim
	}
	if src.UpAxis != "" {
		dst.UpAxis = src.UpAxis
	}
	if src.MetersPerUnit != 0 {
		dst.MetersPerUnit = src.MetersPerUnit
	}

	src.Walk(func(p stage.Path, spec *stage.PrimSpec) bool {
		d, err := dst.EnsurePrimAtPath(p, "")
		if err != nil {
			return false
		}
		if spec.TypeName != "" {
			d.TypeName = spec.TypeName
		}
		for _, api := range spec.APISchemas {
			d.ApplyAPI(api)
		}
		for _, a := range spec.Attributes {
			copyAttrOver(d, a)
		}
		for _, r := range spec.Relationships {
			d.SetRel(r.Name, append([]stage.Path{}, r.Targets...)...)
		}

		return true
	})
	dst.SetDirty()
}

func copyAttrOver(dst *stage.PrimSpec, src *stage.AttributeSpec) {
	out := dst.Attr(src.Name)
	if out == nil {
		out = &stage.AttributeSpec{Name: src.Name}
		dst.Attributes = append(dst.Attributes, out)
	}

	out.Type = src.Type
	out.Value = src.Value
	out.Uniform = src.Uniform
	out.Metadata = nil
	if src.Metadata != nil {
		out.Metadata = make(map[string]string, len(src.Metadata))
		for k, v := range src.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Connections = nil
	if len(src.Connections) > 0 {
		out.Connections = append([]string{}, src.Connections...)
	}
}
