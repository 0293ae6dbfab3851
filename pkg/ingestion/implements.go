package ingestion

import (
	"regexp"
	"strings"
)

// interfaceMethodPattern matches method declarations in interface source code.
// Captures the method name from lines like "Write(data []byte) error" or "Flush() error".
var interfaceMethodPattern = regexp.MustCompile(`(?m)^\s*([A-Z][a-zA-Z0-9_]*)\s*\(`)

// BuildImplementsIndex determines which concrete types implement which
// interfaces, from two independent sources that together cover Go, Python,
// JavaScript and TypeScript:
//
//   - Declared conformance: a class's own "implements"/"extends" clause
//     (TypeEntity.Implements, ExtendsClass, Extends), including interfaces
//     inherited transitively through a superclass chain or interface
//     embedding. This is the only signal available for Python/TS/JS, where
//     there is no structural subtyping to infer from.
//   - Structural conformance: a Go-specific fallback for concrete types that
//     satisfy an interface's method set without declaring it, the normal way
//     Go interfaces are implemented.
//
// The two sources are merged and deduplicated by (type, interface) pair.
func BuildImplementsIndex(types []TypeEntity, functions []FunctionEntity) []ImplementsEdge {
	byName := make(map[string]TypeEntity, len(types))
	for _, t := range types {
		byName[t.Name] = t
	}

	interfaces := extractInterfaceMethods(types)
	interfaceNames := make(map[string]bool, len(interfaces))
	for _, iface := range interfaces {
		interfaceNames[iface.name] = true
	}

	seen := make(map[string]bool)
	var edges []ImplementsEdge
	add := func(typeName, interfaceName, filePath string) {
		if typeName == "" || interfaceName == "" || typeName == interfaceName {
			return
		}
		key := typeName + "\x00" + interfaceName
		if seen[key] {
			return
		}
		seen[key] = true
		edges = append(edges, ImplementsEdge{TypeName: typeName, InterfaceName: interfaceName, FilePath: filePath})
	}

	for _, t := range types {
		if t.Kind == "interface" {
			continue
		}
		for _, ifaceName := range declaredInterfaces(t, byName) {
			add(t.Name, ifaceName, t.FilePath)
		}
	}

	typeMethods := buildTypeMethodSets(functions)
	for _, iface := range interfaces {
		if len(iface.methods) == 0 {
			continue
		}
		for typeName, methods := range typeMethods {
			if interfaceNames[typeName] {
				continue
			}
			if hasAllMethods(methods, iface.methods) {
				add(typeName, iface.name, typeFilePath(typeName, functions))
			}
		}
	}

	return edges
}

// declaredInterfaces walks a class's superclass chain and its own Implements
// list, plus each embedded interface's own Extends list, to produce the full
// transitive set of interfaces a class declares conformance to. Go structs
// rarely populate Implements/ExtendsClass (Go has no "implements" keyword),
// so for Go types this returns nothing and structural matching takes over.
func declaredInterfaces(t TypeEntity, byName map[string]TypeEntity) []string {
	var result []string
	visited := make(map[string]bool)

	var walkClass func(TypeEntity)
	walkClass = func(cur TypeEntity) {
		for _, name := range cur.Implements {
			if visited[name] {
				continue
			}
			visited[name] = true
			result = append(result, name)
			if iface, ok := byName[name]; ok {
				walkInterface(iface, byName, visited, &result)
			}
		}
		if cur.ExtendsClass != "" && !visited["class:"+cur.ExtendsClass] {
			visited["class:"+cur.ExtendsClass] = true
			if parent, ok := byName[cur.ExtendsClass]; ok {
				walkClass(parent)
			}
		}
	}
	walkClass(t)

	return result
}

// walkInterface follows an interface's Extends (embedding) chain, collecting
// every ancestor interface name into result.
func walkInterface(iface TypeEntity, byName map[string]TypeEntity, visited map[string]bool, result *[]string) {
	for _, name := range iface.Extends {
		if visited[name] {
			continue
		}
		visited[name] = true
		*result = append(*result, name)
		if parent, ok := byName[name]; ok {
			walkInterface(parent, byName, visited, result)
		}
	}
}

type interfaceInfo struct {
	name    string
	methods []string
}

// extractInterfaceMethods extracts method names from interface type definitions.
func extractInterfaceMethods(types []TypeEntity) []interfaceInfo {
	var result []interfaceInfo

	for _, t := range types {
		if t.Kind != "interface" {
			continue
		}
		methods := interfaceMethodPattern.FindAllStringSubmatch(t.CodeText, -1)
		var methodNames []string
		for _, m := range methods {
			if len(m) > 1 {
				methodNames = append(methodNames, m[1])
			}
		}
		result = append(result, interfaceInfo{
			name:    t.Name,
			methods: methodNames,
		})
	}

	return result
}

// buildTypeMethodSets builds a map of concrete type → set of method names
// from function entities with receiver syntax (e.g., "CozoDB.Write").
func buildTypeMethodSets(functions []FunctionEntity) map[string]map[string]bool {
	typeMethods := make(map[string]map[string]bool)

	for _, fn := range functions {
		if !strings.Contains(fn.Name, ".") {
			continue
		}
		parts := strings.SplitN(fn.Name, ".", 2)
		typeName := parts[0]
		methodName := parts[1]

		if typeMethods[typeName] == nil {
			typeMethods[typeName] = make(map[string]bool)
		}
		typeMethods[typeName][methodName] = true
	}

	return typeMethods
}

// hasAllMethods checks if the method set contains all required methods.
func hasAllMethods(methods map[string]bool, required []string) bool {
	for _, m := range required {
		if !methods[m] {
			return false
		}
	}
	return true
}

// typeFilePath finds the file path for a concrete type from its methods.
func typeFilePath(typeName string, functions []FunctionEntity) string {
	prefix := typeName + "."
	for _, fn := range functions {
		if strings.HasPrefix(fn.Name, prefix) {
			return fn.FilePath
		}
	}
	return ""
}
