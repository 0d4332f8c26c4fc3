package mcpmgr

import "strings"

// ToolSeparator joins a server name and a tool name into a qualified name.
const ToolSeparator = "__"

// QualifiedName prefixes toolName with its server name so identically named
// tools from different servers stay distinct.
func QualifiedName(serverName, toolName string) string {
	return serverName + ToolSeparator + toolName
}

// SplitQualifiedName reverses QualifiedName. The name must split on
// ToolSeparator into exactly two segments; anything else is a
// *NameFormatError.
func SplitQualifiedName(qualified string) (serverName, toolName string, err error) {
	parts := strings.Split(qualified, ToolSeparator)
	if len(parts) != 2 {
		return "", "", &NameFormatError{Name: qualified}
	}
	return parts[0], parts[1], nil
}
