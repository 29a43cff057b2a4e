package connector

// aliasGroups lists industry-standard parameter name synonyms per
// §4.5. Within a group, the first entry is the canonical name; when a
// caller supplies more than one alias for the same logical parameter,
// the one listed first here (the "new" name) wins.
var aliasGroups = [][]string{
	{"database", "dbname"},
	{"username", "user"},
}

// ReservedSyncModes must be rejected by parameter validation: they are
// named in the spec but not implemented in this engine.
var ReservedSyncModes = map[string]bool{
	"cdc": true,
}

// ResolveAliases canonicalizes params in place (on a copy) by merging
// alias groups: when both the canonical and an alias key are present,
// the canonical key's value is kept and the alias key is dropped; when
// only the alias is present, it's renamed to the canonical key.
func ResolveAliases(params map[string]any) map[string]any {
	var out = make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, group := range aliasGroups {
		var canonical = group[0]
		var canonicalPresent = false
		if _, ok := out[canonical]; ok {
			canonicalPresent = true
		}
		for _, alias := range group[1:] {
			if v, ok := out[alias]; ok {
				if !canonicalPresent {
					out[canonical] = v
					canonicalPresent = true
				}
				delete(out, alias)
			}
		}
	}
	return out
}

// KnownAliasNames returns every canonical and alias name accepted for
// the given set of logical keys, for use in UnknownParameterError's
// Accepted list.
func KnownAliasNames(keys ...string) []string {
	var set = map[string]bool{}
	for _, k := range keys {
		set[k] = true
	}
	var out []string
	for _, group := range aliasGroups {
		for _, name := range group {
			if set[group[0]] {
				out = append(out, name)
			}
		}
	}
	return out
}

// ValidateSyncMode rejects a reserved-but-unimplemented sync_mode
// (ReservedSyncModes) with a dedicated UnsupportedSyncModeError,
// rather than letting it reach the incremental executor and fail
// there with a generic "unknown sync_mode" error. A missing or
// unreserved sync_mode param is not this function's concern.
func ValidateSyncMode(connectorType string, params map[string]any) error {
	var mode, ok = params["sync_mode"].(string)
	if !ok || !ReservedSyncModes[mode] {
		return nil
	}
	return &UnsupportedSyncModeError{ConnectorType: connectorType, SyncMode: mode}
}

// ValidateRequired checks that every key in required is present in
// params (after alias resolution), returning ConfigurationError naming
// the missing keys.
func ValidateRequired(connectorType string, params map[string]any, required []string) error {
	var missing []string
	for _, k := range required {
		if _, ok := params[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{ConnectorType: connectorType, Message: "missing required parameters: " + joinStrings(missing)}
	}
	return nil
}

// RejectUnknown returns UnknownParameterError for the first key in
// params not present in accepted.
func RejectUnknown(connectorType string, params map[string]any, accepted []string) error {
	var acceptedSet = map[string]bool{}
	for _, k := range accepted {
		acceptedSet[k] = true
	}
	for k := range params {
		if !acceptedSet[k] {
			return &UnknownParameterError{ConnectorType: connectorType, Parameter: k, Accepted: accepted}
		}
	}
	return nil
}

func joinStrings(ss []string) string {
	var out string
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
