package actionvalidate

import (
	"fmt"
	"strings"

	"github.com/hostbridge/hostbridge/internal/types"
)

// FingerprintLookup resolves the currently cached fingerprint for a path in
// the active context snapshot, used by the expectedHash precondition
// check. It returns ok=false when the path isn't cached at all.
type FingerprintLookup func(path string) (fingerprint string, ok bool)

// Options bundles the policy knobs enforced on every entry path.
type Options struct {
	MaxActions      int
	MaxSourceBytes  int64
	SafeEditBytes   int64
	Policy          types.PolicyProfile
	ProtectedRoots  []string
	AllowedRoots    []string
	HostRootPrefix  string // e.g. "game/"
	Fingerprint     FingerprintLookup
}

var editModes = map[string]bool{
	types.EditModeReplace: true, types.EditModeAppend: true, types.EditModePrepend: true,
	types.EditModeReplaceRange: true, types.EditModeInsertBefore: true, types.EditModeInsertAfter: true,
}

var structuralActions = map[string]bool{
	types.ActionCreateInstance: true, types.ActionRename: true, types.ActionMove: true,
}

// Result is the validator's output: either the normalized actions or a
// list of human-readable problems, one per violation, plus whether any
// problem was an expectedHash mismatch/miss (which triggers a context
// resync request upstream).
type Result struct {
	Actions       []types.Action
	Reasons       []string
	NeedsResync   bool
}

// Validate canonicalizes and validates raw actions against opts. It never
// mutates server state; all the expectedHash checks it performs are pure
// reads through opts.Fingerprint.
func Validate(rawActions []map[string]any, opts Options) Result {
	var res Result

	if len(rawActions) > opts.MaxActions {
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"action count %d exceeds MAX_ACTIONS %d", len(rawActions), opts.MaxActions))
		return res
	}

	actions := make([]types.Action, 0, len(rawActions))
	for _, raw := range rawActions {
		actions = append(actions, Canonicalize(raw))
	}

	for i := range actions {
		validateOne(&actions[i], opts, &res)
	}

	if len(res.Reasons) == 0 {
		res.Actions = actions
	}
	return res
}

func validateOne(a *types.Action, opts Options, res *Result) {
	prefix := fmt.Sprintf("action[%s]", a.Type)

	if needsPath(a.Type) {
		path := a.Path
		if a.Type == types.ActionCreateInstance && path == "" {
			path = a.ParentPath
		}
		validatePath(prefix, path, opts, res)
	}

	switch a.Type {
	case types.ActionCreateInstance:
		if a.ParentPath == "" || a.ClassName == "" {
			res.Reasons = append(res.Reasons, prefix+": createInstance requires parentPath and className")
		}
		if opts.Policy == types.PolicySafe {
			res.Reasons = append(res.Reasons, prefix+": structural actions blocked under safe policy")
		}

	case types.ActionRename, types.ActionMove:
		if opts.Policy == types.PolicySafe {
			res.Reasons = append(res.Reasons, prefix+": structural actions blocked under safe policy")
		}

	case types.ActionDeleteInstance:
		if opts.Policy != types.PolicyPower {
			res.Reasons = append(res.Reasons, prefix+": deleteInstance requires power policy profile")
		}

	case types.ActionEditScript:
		validateEditScript(prefix, a, opts, res)

	case types.ActionAnimationPreview:
		if a.SequencePath == "" && a.Sequence == nil {
			res.Reasons = append(res.Reasons, prefix+": animationPreview requires sequencePath or sequence")
		}

	case types.ActionAnimationStop:
		if a.RigPath == "" {
			res.Reasons = append(res.Reasons, prefix+": animationStop requires rigPath")
		}

	default:
		if !needsPath(a.Type) && a.Type != types.ActionAnimationCreate && a.Type != types.ActionAnimAddKeyframe {
			res.Reasons = append(res.Reasons, prefix+": unknown action type")
		}
	}

	if a.ExpectedHash != "" && opts.Fingerprint != nil {
		cached, ok := opts.Fingerprint(a.Path)
		switch {
		case !ok:
			res.Reasons = append(res.Reasons, prefix+": expectedHash provided but no cached hash")
			res.NeedsResync = true
		case cached != a.ExpectedHash:
			res.Reasons = append(res.Reasons, prefix+": expectedHash mismatch")
			res.NeedsResync = true
		}
	}
}

func needsPath(actionType string) bool {
	switch actionType {
	case types.ActionCreateInstance, types.ActionInsertAsset, types.ActionSetProperty,
		types.ActionSetProperties, types.ActionCloneInstance, types.ActionClearChildren,
		types.ActionSetTags, types.ActionDeleteInstance, types.ActionRename, types.ActionMove,
		types.ActionSetAttribute, types.ActionSetAttributes, types.ActionEditScript,
		types.ActionTween, types.ActionEmitParticles, types.ActionPlaySound:
		return true
	}
	return false
}

func validatePath(prefix, path string, opts Options, res *Result) {
	if path == "" {
		res.Reasons = append(res.Reasons, prefix+": missing path")
		return
	}
	rootPrefix := opts.HostRootPrefix
	if rootPrefix == "" {
		rootPrefix = "game/"
	}
	if !strings.HasPrefix(path, rootPrefix) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s: path %q must begin with %q", prefix, path, rootPrefix))
		return
	}
	for _, protected := range opts.ProtectedRoots {
		if protected != "" && strings.HasPrefix(path, protected) {
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s: protected path %q", prefix, path))
			return
		}
	}
	if len(opts.AllowedRoots) > 0 {
		allowed := false
		for _, root := range opts.AllowedRoots {
			if strings.HasPrefix(path, root) {
				allowed = true
				break
			}
		}
		if !allowed {
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s: path %q not under an allowed root", prefix, path))
		}
	}
}

func validateEditScript(prefix string, a *types.Action, opts Options, res *Result) {
	if !editModes[a.Mode] {
		res.Reasons = append(res.Reasons, prefix+": unrecognized editScript mode")
	}
	if a.Source == "" && len(a.Chunks) == 0 {
		res.Reasons = append(res.Reasons, prefix+": editScript requires source or chunks")
	}

	var total int64
	total += int64(len(a.Source))
	for _, c := range a.Chunks {
		total += int64(len(c))
	}

	if opts.MaxSourceBytes > 0 && total > opts.MaxSourceBytes {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s: source exceeds MAX_SOURCE_BYTES (%d > %d)",
			prefix, total, opts.MaxSourceBytes))
	}
	if opts.Policy == types.PolicySafe && opts.SafeEditBytes > 0 && total > opts.SafeEditBytes {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s: source exceeds SAFE_EDIT_BYTES under safe policy (%d > %d)",
			prefix, total, opts.SafeEditBytes))
	}
}
