package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"go.mongodb.org/mongo-driver/v2/bson"

	"mongorunner/internal/dbclient"
)

// binding builds the `db` capability for one execution. Every driver call is
// issued with the execution context and surfaces to the script as a Promise
// that is already settled, so await, .then() and bare expressions all work.
type binding struct {
	ctx context.Context
	vm  *goja.Runtime
	db  dbclient.Database

	jsonParse     goja.Callable
	jsonStringify goja.Callable
}

func newBinding(ctx context.Context, vm *goja.Runtime, db dbclient.Database) *binding {
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, _ := goja.AssertFunction(jsonObj.Get("parse"))
	stringify, _ := goja.AssertFunction(jsonObj.Get("stringify"))
	return &binding{ctx: ctx, vm: vm, db: db, jsonParse: parse, jsonStringify: stringify}
}

// ── Value conversion ──

// toJS converts a driver value into a plain script value through relaxed
// Extended JSON, keeping document key order.
func (b *binding) toJS(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case string, bool, int, int64, float64:
		return b.vm.ToValue(x)
	}
	raw, err := dbclient.ExtJSON(v)
	if err != nil {
		panic(b.vm.NewGoError(err))
	}
	parsed, err := b.jsonParse(goja.Undefined(), b.vm.ToValue(string(raw)))
	if err != nil {
		panic(err)
	}
	return parsed
}

// fromJS converts a script value into its Extended JSON interpretation:
// objects become bson.D, arrays bson.A.
func (b *binding) fromJS(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	s, err := b.jsonStringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(s) {
		return nil, nil
	}
	return dbclient.ParseValue(s.String())
}

func (b *binding) document(v goja.Value, what string) (bson.D, error) {
	x, err := b.fromJS(v)
	if err != nil {
		return nil, err
	}
	switch d := x.(type) {
	case nil:
		return bson.D{}, nil
	case bson.D:
		return d, nil
	default:
		return nil, fmt.Errorf("%s must be an object", what)
	}
}

func (b *binding) array(v goja.Value, what string) (bson.A, error) {
	x, err := b.fromJS(v)
	if err != nil {
		return nil, err
	}
	switch a := x.(type) {
	case nil:
		return bson.A{}, nil
	case bson.A:
		return a, nil
	default:
		return nil, fmt.Errorf("%s must be an array", what)
	}
}

// settled returns a Promise already resolved with fn's result, or rejected
// with an Error carrying its error message.
func (b *binding) settled(fn func() (any, error)) goja.Value {
	p, resolve, reject := b.vm.NewPromise()
	v, err := fn()
	if err != nil {
		if rerr := reject(b.vm.NewGoError(err)); rerr != nil {
			panic(rerr)
		}
	} else if rerr := resolve(b.toJS(v)); rerr != nil {
		panic(rerr)
	}
	return b.vm.ToValue(p)
}

func (b *binding) method(obj *goja.Object, name string, fn func(call goja.FunctionCall) goja.Value) {
	if err := obj.Set(name, fn); err != nil {
		panic(b.vm.NewGoError(err))
	}
}

// ── db ──

func (b *binding) database() *goja.Object {
	obj := b.vm.NewObject()

	b.method(obj, "getName", func(goja.FunctionCall) goja.Value {
		return b.vm.ToValue(b.db.Name())
	})
	collection := func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if goja.IsUndefined(call.Argument(0)) || name == "" {
			panic(b.vm.NewTypeError("collection name must be a non-empty string"))
		}
		return b.collection(b.db.Collection(name))
	}
	b.method(obj, "collection", collection)
	b.method(obj, "getCollection", collection)

	b.method(obj, "listCollections", func(goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			names, err := b.db.ListCollectionNames(b.ctx)
			if err != nil {
				return nil, err
			}
			out := bson.A{}
			for _, n := range names {
				out = append(out, bson.D{{Key: "name", Value: n}})
			}
			return out, nil
		})
	})
	b.method(obj, "createCollection", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return b.settled(func() (any, error) {
			if err := b.db.CreateCollection(b.ctx, name); err != nil {
				return nil, err
			}
			return bson.D{{Key: "ok", Value: 1}}, nil
		})
	})
	b.method(obj, "dropCollection", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return b.settled(func() (any, error) {
			if err := b.db.Collection(name).Drop(b.ctx); err != nil {
				return nil, err
			}
			return true, nil
		})
	})
	b.method(obj, "runCommand", func(call goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			cmd, err := b.document(call.Argument(0), "command")
			if err != nil {
				return nil, err
			}
			if len(cmd) == 0 {
				return nil, fmt.Errorf("command must not be empty")
			}
			return b.db.RunCommand(b.ctx, cmd)
		})
	})

	return obj
}

// ── collection ──

func (b *binding) collection(coll dbclient.Collection) *goja.Object {
	obj := b.vm.NewObject()
	_ = obj.Set("collectionName", coll.Name())

	b.method(obj, "find", func(call goja.FunctionCall) goja.Value {
		filter, err := b.document(call.Argument(0), "filter")
		if err != nil {
			panic(b.vm.NewGoError(err))
		}
		var opts dbclient.FindOptions
		if o := call.Argument(1); !goja.IsUndefined(o) && !goja.IsNull(o) {
			if opts, err = b.findOptions(o.ToObject(b.vm)); err != nil {
				panic(b.vm.NewGoError(err))
			}
		}
		return b.cursor(coll, filter, opts)
	})
	b.method(obj, "findOne", func(call goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			filter, err := b.document(call.Argument(0), "filter")
			if err != nil {
				return nil, err
			}
			doc, err := coll.FindOne(b.ctx, filter)
			if doc == nil {
				return nil, err
			}
			return doc, err
		})
	})
	b.method(obj, "insertOne", func(call goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			doc, err := b.document(call.Argument(0), "document")
			if err != nil {
				return nil, err
			}
			return coll.InsertOne(b.ctx, doc)
		})
	})
	b.method(obj, "insertMany", func(call goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			arr, err := b.array(call.Argument(0), "documents")
			if err != nil {
				return nil, err
			}
			docs := make([]bson.D, 0, len(arr))
			for i, item := range arr {
				d, ok := item.(bson.D)
				if !ok {
					return nil, fmt.Errorf("documents[%d] must be an object", i)
				}
				docs = append(docs, d)
			}
			return coll.InsertMany(b.ctx, docs)
		})
	})

	update := func(many bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return b.settled(func() (any, error) {
				filter, err := b.document(call.Argument(0), "filter")
				if err != nil {
					return nil, err
				}
				upd, err := b.fromJS(call.Argument(1))
				if err != nil {
					return nil, err
				}
				if upd == nil {
					return nil, fmt.Errorf("update document is required")
				}
				if many {
					return coll.UpdateMany(b.ctx, filter, upd)
				}
				return coll.UpdateOne(b.ctx, filter, upd)
			})
		}
	}
	b.method(obj, "updateOne", update(false))
	b.method(obj, "updateMany", update(true))

	del := func(many bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return b.settled(func() (any, error) {
				filter, err := b.document(call.Argument(0), "filter")
				if err != nil {
					return nil, err
				}
				if many {
					return coll.DeleteMany(b.ctx, filter)
				}
				return coll.DeleteOne(b.ctx, filter)
			})
		}
	}
	b.method(obj, "deleteOne", del(false))
	b.method(obj, "deleteMany", del(true))

	b.method(obj, "aggregate", func(call goja.FunctionCall) goja.Value {
		pipeline, err := b.array(call.Argument(0), "pipeline")
		if err != nil {
			panic(b.vm.NewGoError(err))
		}
		return b.lazyArray(func() (any, error) {
			return coll.Aggregate(b.ctx, pipeline)
		})
	})
	b.method(obj, "countDocuments", func(call goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			filter, err := b.document(call.Argument(0), "filter")
			if err != nil {
				return nil, err
			}
			return coll.CountDocuments(b.ctx, filter)
		})
	})
	b.method(obj, "distinct", func(call goja.FunctionCall) goja.Value {
		field := call.Argument(0).String()
		return b.settled(func() (any, error) {
			filter, err := b.document(call.Argument(1), "filter")
			if err != nil {
				return nil, err
			}
			return coll.Distinct(b.ctx, field, filter)
		})
	})
	b.method(obj, "indexes", func(goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			return coll.Indexes(b.ctx)
		})
	})
	b.method(obj, "createIndex", func(call goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			keys, err := b.document(call.Argument(0), "index keys")
			if err != nil {
				return nil, err
			}
			if len(keys) == 0 {
				return nil, fmt.Errorf("index keys must not be empty")
			}
			unique := false
			if o := call.Argument(1); !goja.IsUndefined(o) && !goja.IsNull(o) {
				if u := o.ToObject(b.vm).Get("unique"); u != nil {
					unique = u.ToBoolean()
				}
			}
			return coll.CreateIndex(b.ctx, keys, unique)
		})
	})
	b.method(obj, "dropIndex", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return b.settled(func() (any, error) {
			if err := coll.DropIndex(b.ctx, name); err != nil {
				return nil, err
			}
			return bson.D{{Key: "ok", Value: 1}}, nil
		})
	})
	b.method(obj, "drop", func(goja.FunctionCall) goja.Value {
		return b.settled(func() (any, error) {
			if err := coll.Drop(b.ctx); err != nil {
				return nil, err
			}
			return true, nil
		})
	})

	return obj
}

func (b *binding) findOptions(o *goja.Object) (dbclient.FindOptions, error) {
	var opts dbclient.FindOptions
	var err error
	if v := o.Get("projection"); v != nil {
		if opts.Projection, err = b.document(v, "projection"); err != nil {
			return opts, err
		}
	}
	if v := o.Get("sort"); v != nil {
		if opts.Sort, err = b.document(v, "sort"); err != nil {
			return opts, err
		}
	}
	if v := o.Get("limit"); v != nil && !goja.IsUndefined(v) {
		opts.Limit = v.ToInteger()
	}
	if v := o.Get("skip"); v != nil && !goja.IsUndefined(v) {
		opts.Skip = v.ToInteger()
	}
	return opts, nil
}

// cursor returns a chainable find cursor. It is a thenable, so a bare
// `db.collection('c').find()` evaluates to the documents.
func (b *binding) cursor(coll dbclient.Collection, filter bson.D, opts dbclient.FindOptions) *goja.Object {
	obj := b.lazyArray(func() (any, error) {
		return coll.Find(b.ctx, filter, opts)
	})

	chain := func(apply func(next *dbclient.FindOptions, v goja.Value) error) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			next := opts
			if err := apply(&next, call.Argument(0)); err != nil {
				panic(b.vm.NewGoError(err))
			}
			return b.cursor(coll, filter, next)
		}
	}
	b.method(obj, "limit", chain(func(next *dbclient.FindOptions, v goja.Value) error {
		next.Limit = v.ToInteger()
		return nil
	}))
	b.method(obj, "skip", chain(func(next *dbclient.FindOptions, v goja.Value) error {
		next.Skip = v.ToInteger()
		return nil
	}))
	b.method(obj, "sort", chain(func(next *dbclient.FindOptions, v goja.Value) (err error) {
		next.Sort, err = b.document(v, "sort")
		return err
	}))
	b.method(obj, "project", chain(func(next *dbclient.FindOptions, v goja.Value) (err error) {
		next.Projection, err = b.document(v, "projection")
		return err
	}))
	return obj
}

// lazyArray returns an object exposing toArray() and then(), running fetch
// the first time either is called.
func (b *binding) lazyArray(fetch func() (any, error)) *goja.Object {
	obj := b.vm.NewObject()
	var promise goja.Value
	toArray := func() goja.Value {
		if promise == nil {
			promise = b.settled(fetch)
		}
		return promise
	}
	b.method(obj, "toArray", func(goja.FunctionCall) goja.Value {
		return toArray()
	})
	b.method(obj, "then", func(call goja.FunctionCall) goja.Value {
		p := toArray().ToObject(b.vm)
		then, ok := goja.AssertFunction(p.Get("then"))
		if !ok {
			panic(b.vm.NewTypeError("promise has no then"))
		}
		v, err := then(p, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return v
	})
	return obj
}
