package errors

// ============================================================================
// 修复建议
// ============================================================================

var suggestions = map[string][]string{
	V0003: {"an instruction consumed more operands than were pushed on this path"},
	V0004: {"increase .maxstack or split the expression"},
	V0005: {"every path reaching a branch target must leave identical types on the stack"},
	V0006: {"every path reaching a branch target must leave the same number of values on the stack"},
	V0100: {"operands must be the same numeric kind, or native int mixed with int32"},
	V0101: {"object references can only be compared with ceq, cgt.un or beq/bne.un"},
	V0103: {"run with unsafe_allowed = true to permit pointer arithmetic and casts"},
	V0202: {"insert a conversion before storing the value"},
	V0402: {"the evaluation stack must be empty when entering a protected region"},
	J0001: {"the coder and verifier disagree on stack shape; this is an engine bug"},
	N0001: {"check [pinvoke] search_paths and aliases in ilengine.toml"},
	N0004: {"the method is marked internalcall but the engine does not implement it"},
}

// GetSuggestions 根据错误码获取修复建议
func GetSuggestions(code string) []string {
	return suggestions[code]
}
