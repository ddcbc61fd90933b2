// Package actionvalidate canonicalizes duck-typed action objects into
// types.Action and enforces the schema/path/policy/size rules shared by
// every entry path (direct /enqueue, codex bridge responses).
package actionvalidate

import (
	"strings"

	"github.com/hostbridge/hostbridge/internal/types"
)

// typeAliases maps every synonym action-type spelling onto its canonical
// tag. Kept as a flat table, not a switch, so new aliases are a one-line
// addition.
var typeAliases = map[string]string{
	"createinstance": types.ActionCreateInstance,
	"createfolder":   types.ActionCreateInstance,
	"create":         types.ActionCreateInstance,
	"insertasset":    types.ActionInsertAsset,
	"setproperty":    types.ActionSetProperty,
	"setsource":      types.ActionEditScript,
	"setproperties":  types.ActionSetProperties,
	"cloneinstance":  types.ActionCloneInstance,
	"clone":          types.ActionCloneInstance,
	"clearchildren":  types.ActionClearChildren,
	"settags":        types.ActionSetTags,
	"deleteinstance": types.ActionDeleteInstance,
	"delete":         types.ActionDeleteInstance,
	"remove":         types.ActionDeleteInstance,
	"rename":         types.ActionRename,
	"move":           types.ActionMove,
	"moveinstance":   types.ActionMove,
	"setattribute":   types.ActionSetAttribute,
	"setattributes":  types.ActionSetAttributes,
	"editscript":     types.ActionEditScript,
	"tween":          types.ActionTween,
	"emitparticles":  types.ActionEmitParticles,
	"playsound":      types.ActionPlaySound,
	"animationcreate":       types.ActionAnimationCreate,
	"animationaddkeyframe":  types.ActionAnimAddKeyframe,
	"animationpreview":      types.ActionAnimationPreview,
	"animationstop":         types.ActionAnimationStop,
}

// fieldAliases maps caller-supplied payload field names onto the
// canonical field name the rest of the system uses.
var fieldAliases = map[string]string{
	"content":       "source",
	"target":        "path",
	"parent":        "parentPath",
	"parentpath":    "parentPath",
	"classname":     "className",
	"newname":       "newName",
	"newparentpath": "newParentPath",
	"assetid":       "assetId",
	"expectedsha1":  "expectedHash",
	"expectedhash":  "expectedHash",
}

// Canonicalize converts a raw, duck-typed action object (as decoded from
// JSON into a map) into a types.Action with its type and fields mapped to
// canonical names. Canonicalization is pure: it never consults server
// state and never returns an error — unrecognized types pass through with
// their lowercased tag so the validator can reject them uniformly.
func Canonicalize(raw map[string]any) types.Action {
	norm := make(map[string]any, len(raw))
	for k, v := range raw {
		key := fieldAliases[strings.ToLower(k)]
		if key == "" {
			key = k
		}
		norm[key] = v
	}

	rawType, _ := norm["type"].(string)
	canonType := typeAliases[strings.ToLower(rawType)]
	if canonType == "" {
		canonType = strings.ToLower(rawType)
	}

	a := types.Action{Type: canonType}
	a.Path = str(norm["path"])
	a.ParentPath = str(norm["parentPath"])
	a.ClassName = str(norm["className"])
	a.Name = str(norm["name"])
	a.NewName = str(norm["newName"])
	a.NewParentPath = str(norm["newParentPath"])
	a.AssetID = str(norm["assetId"])
	a.Property = str(norm["property"])
	a.Value = norm["value"]
	a.Properties, _ = norm["properties"].(map[string]any)
	a.Attribute = str(norm["attribute"])
	a.Attributes, _ = norm["attributes"].(map[string]any)
	a.Tags = strSlice(norm["tags"])
	a.Mode = str(norm["mode"])
	a.Source = str(norm["source"])
	a.Chunks = strSlice(norm["chunks"])
	if n, ok := norm["rangeStart"].(float64); ok {
		a.RangeStart = int(n)
	}
	if n, ok := norm["rangeEnd"].(float64); ok {
		a.RangeEnd = int(n)
	}
	a.SequencePath = str(norm["sequencePath"])
	a.Sequence, _ = norm["sequence"].(map[string]any)
	a.RigPath = str(norm["rigPath"])
	a.ExpectedHash = str(norm["expectedHash"])
	return a
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
