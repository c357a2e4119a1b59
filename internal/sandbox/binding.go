package sandbox

import (
	"github.com/dop251/goja"
)

// bindDocument exposes doc to scripts:
//
//	document.root
//	document.find(selector)     first match or null
//	document.findAll(selector)  array of matches
//	document.create(type, name[, parent])
//	document.remove(node)
//	document.changes()
//
// Nodes carry id, type and name, plus get, set, children and remove.
func (r *Runtime) bindDocument(doc *Document) goja.Value {
	obj := r.vm.NewObject()

	root, _ := doc.Lookup(RootID)
	obj.Set("root", r.nodeProxy(doc, root))

	obj.Set("find", func(call goja.FunctionCall) goja.Value {
		found := doc.Query(call.Argument(0).String())
		if len(found) == 0 {
			return goja.Null()
		}
		return r.nodeProxy(doc, found[0])
	})

	obj.Set("findAll", func(call goja.FunctionCall) goja.Value {
		found := doc.Query(call.Argument(0).String())
		proxies := make([]interface{}, len(found))
		for i, n := range found {
			proxies[i] = r.nodeProxy(doc, n)
		}
		return r.vm.NewArray(proxies...)
	})

	obj.Set("create", func(call goja.FunctionCall) goja.Value {
		parent := RootID
		if arg := call.Argument(2); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			parent = r.nodeID(arg)
		}
		id, err := doc.Create(call.Argument(0).String(), call.Argument(1).String(), parent)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		n, _ := doc.Lookup(id)
		return r.nodeProxy(doc, n)
	})

	obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		if err := doc.Remove(r.nodeID(call.Argument(0))); err != nil {
			panic(r.vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	obj.Set("changes", func(goja.FunctionCall) goja.Value {
		changes := doc.Changes()
		out := make([]interface{}, len(changes))
		for i, c := range changes {
			out[i] = map[string]interface{}{
				"type":     c.Type,
				"nodeId":   c.NodeID,
				"property": c.Property,
				"value":    c.Value,
			}
		}
		return r.vm.ToValue(out)
	})

	return obj
}

func (r *Runtime) nodeProxy(doc *Document, n Node) goja.Value {
	id := n.ID
	obj := r.vm.NewObject()
	obj.Set("id", id)
	obj.Set("type", n.Type)

	getName := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		name, _ := doc.Get(id, "name")
		return r.vm.ToValue(name)
	})
	obj.DefineAccessorProperty("name", getName, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		v, ok := doc.Get(id, call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return r.vm.ToValue(v)
	})

	obj.Set("set", func(call goja.FunctionCall) goja.Value {
		if err := doc.Set(id, call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(r.vm.NewGoError(err))
		}
		return obj
	})

	obj.Set("children", func(goja.FunctionCall) goja.Value {
		current, ok := doc.Lookup(id)
		if !ok {
			return r.vm.NewArray()
		}
		proxies := make([]interface{}, len(current.Children))
		for i, child := range current.Children {
			proxies[i] = r.nodeProxy(doc, child)
		}
		return r.vm.NewArray(proxies...)
	})

	obj.Set("remove", func(goja.FunctionCall) goja.Value {
		if err := doc.Remove(id); err != nil {
			panic(r.vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	return obj
}

// nodeID accepts a node proxy or a bare id.
func (r *Runtime) nodeID(v goja.Value) int {
	if obj, ok := v.(*goja.Object); ok {
		id := obj.Get("id")
		if id == nil {
			panic(r.vm.NewTypeError("not a document node"))
		}
		return int(id.ToInteger())
	}
	return int(v.ToInteger())
}
