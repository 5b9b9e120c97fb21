package dbus

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5/introspect"
)

// methodSpecs describes every method the server can route, in the order
// they are declared. The dispatcher's route table and the introspection XML
// are both built from it.
func methodSpecs() []methodSpec {
	return []methodSpec{
		{
			iface: Interface,
			method: introspect.Method{
				Name: MethodGetCapabilities,
				Args: []introspect.Arg{
					{Name: "capabilities", Type: "as", Direction: "out"},
				},
			},
		},
		{
			iface: Interface,
			method: introspect.Method{
				Name: MethodGetServerInformation,
				Args: []introspect.Arg{
					{Name: "name", Type: "s", Direction: "out"},
					{Name: "vendor", Type: "s", Direction: "out"},
					{Name: "version", Type: "s", Direction: "out"},
					{Name: "spec_version", Type: "s", Direction: "out"},
				},
			},
		},
		{
			iface: Interface,
			method: introspect.Method{
				Name: MethodNotify,
				Args: []introspect.Arg{
					{Name: "app_name", Type: "s", Direction: "in"},
					{Name: "replaces_id", Type: "u", Direction: "in"},
					{Name: "app_icon", Type: "s", Direction: "in"},
					{Name: "summary", Type: "s", Direction: "in"},
					{Name: "body", Type: "s", Direction: "in"},
					{Name: "actions", Type: "as", Direction: "in"},
					{Name: "hints", Type: "a{sv}", Direction: "in"},
					{Name: "expire_timeout", Type: "i", Direction: "in"},
					{Name: "id", Type: "u", Direction: "out"},
				},
			},
		},
		{
			iface: Interface,
			method: introspect.Method{
				Name: MethodCloseNotification,
				Args: []introspect.Arg{
					{Name: "id", Type: "u", Direction: "in"},
				},
			},
		},
		{
			iface:  IntrospectableInterface,
			method: introspect.IntrospectData.Methods[0],
		},
	}
}

type methodSpec struct {
	iface  string
	method introspect.Method
}

// introspectionXML renders the introspection document for specs, grouping
// methods by interface in first-seen order.
func introspectionXML(specs []methodSpec) (string, error) {
	node := introspect.Node{Name: string(ObjectPath)}
	index := make(map[string]int)
	for _, s := range specs {
		i, ok := index[s.iface]
		if !ok {
			i = len(node.Interfaces)
			index[s.iface] = i
			node.Interfaces = append(node.Interfaces, introspect.Interface{Name: s.iface})
		}
		node.Interfaces[i].Methods = append(node.Interfaces[i].Methods, s.method)
	}

	b, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal introspection data: %w", err)
	}
	return strings.TrimSpace(introspect.IntrospectDeclarationString) + "\n" + string(b) + "\n", nil
}
