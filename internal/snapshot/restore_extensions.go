package snapshot

// ExtensionEnv is the narrow capability set extension restore needs from
// the live environment, injected so this package stays free of HTTP/git
// dependencies of its own.
type ExtensionEnv struct {
	// InstallFromRegistry downloads+extracts ext into its extension
	// directory. The Scheduler's implementation writes no .tracking
	// manifest of the installed file paths.
	InstallFromRegistry func(ext Extension) error
	// CloneSource clones ext's source repository at ext.Commit.
	CloneSource func(ext Extension) error
	// SwitchRegistry replaces oldExt with newExt. The Scheduler's
	// implementation deletes the old extension directory and then runs
	// InstallFromRegistry for newExt; it does not download to a temp path
	// or compare old and new file sets.
	SwitchRegistry func(oldExt, newExt Extension) error
	// SwitchSource checks out newExt.Commit in an existing working copy.
	SwitchSource func(oldExt, newExt Extension) error
	// Move toggles an extension between enabled and its .disabled/
	// subdirectory.
	Move func(ext Extension, enabled bool) error
	// Remove deletes an extension's directory entirely.
	Remove func(ext Extension) error
	// RunPostInstall runs an extension's post-install scripts (filtered
	// to exclude payload-conflicting packages) and its install hook.
	RunPostInstall func(ext Extension) error
}

// ExtensionRestoreResult records what RestoreExtensions did, for
// surfacing in the same structured shape as package restore.
type ExtensionRestoreResult struct {
	Installed []string
	Switched  []string
	Moved     []string
	Removed   []string
	Failed    []string
	Errors    []string
}

// RestoreExtensions reconciles live against target (spec.md §4.10's
// extension-restore rules): install missing, switch changed, move on
// enabled/disabled mismatch, remove extras.
func RestoreExtensions(target, live []Extension, env ExtensionEnv) ExtensionRestoreResult {
	var result ExtensionRestoreResult

	liveByKey := make(map[string]Extension, len(live))
	for _, e := range live {
		liveByKey[extKey(e)] = e
	}
	targetByKey := make(map[string]Extension, len(target))
	for _, e := range target {
		targetByKey[extKey(e)] = e
	}

	for key, want := range targetByKey {
		have, present := liveByKey[key]

		if !present {
			if err := installExtension(want, env); err != nil {
				result.Failed = append(result.Failed, want.DirName)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if err := env.RunPostInstall(want); err != nil {
				result.Failed = append(result.Failed, want.DirName)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Installed = append(result.Installed, want.DirName)
			continue
		}

		versionChanged := have.Version != want.Version || have.Commit != want.Commit
		if versionChanged {
			if err := switchExtension(have, want, env); err != nil {
				result.Failed = append(result.Failed, want.DirName)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if err := env.RunPostInstall(want); err != nil {
				result.Failed = append(result.Failed, want.DirName)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Switched = append(result.Switched, want.DirName)
			continue
		}

		if have.Enabled != want.Enabled {
			if err := env.Move(want, want.Enabled); err != nil {
				result.Failed = append(result.Failed, want.DirName)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Moved = append(result.Moved, want.DirName)
		}
	}

	for key, have := range liveByKey {
		if _, wanted := targetByKey[key]; wanted {
			continue
		}
		if err := env.Remove(have); err != nil {
			result.Failed = append(result.Failed, have.DirName)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Removed = append(result.Removed, have.DirName)
	}

	return result
}

func installExtension(ext Extension, env ExtensionEnv) error {
	if ext.Type == ExtensionSourceTree && ext.URL != "" {
		return env.CloneSource(ext)
	}
	return env.InstallFromRegistry(ext)
}

func switchExtension(have, want Extension, env ExtensionEnv) error {
	if want.Type == ExtensionSourceTree {
		return env.SwitchSource(have, want)
	}
	return env.SwitchRegistry(have, want)
}
