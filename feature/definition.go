package feature

// BindingKind discriminates the three forms an argument binding can take.
type BindingKind int

const (
	// BindingLiteral binds a constant value.
	BindingLiteral BindingKind = iota
	// BindingFeature binds the resolved value of another feature.
	BindingFeature
	// BindingList binds a list whose items are themselves bindings.
	BindingList
)

// Binding associates one UDF parameter with its value source: a literal, a
// reference to another feature, or a list of such bindings.
type Binding struct {
	// Param is the name of the UDF parameter this binding feeds.
	Param string

	Kind    BindingKind
	Literal any
	Feature string
	List    []Binding
}

// LiteralBinding binds param to a constant value.
func LiteralBinding(param string, value any) Binding {
	return Binding{Param: param, Kind: BindingLiteral, Literal: value}
}

// FeatureBinding binds param to the resolved value of another feature.
func FeatureBinding(param, feature string) Binding {
	return Binding{Param: param, Kind: BindingFeature, Feature: feature}
}

// ListBinding binds param to a list of nested bindings.
func ListBinding(param string, items ...Binding) Binding {
	return Binding{Param: param, Kind: BindingList, List: items}
}

// featureRefs appends every feature referenced by the binding, including
// refs nested inside list items.
func (b Binding) featureRefs(refs []string) []string {
	switch b.Kind {
	case BindingFeature:
		refs = append(refs, b.Feature)
	case BindingList:
		for _, item := range b.List {
			refs = item.featureRefs(refs)
		}
	}
	return refs
}

// Definition is a named feature computation: a UDF reference plus argument
// bindings and resolution policy. Definitions are immutable once the rule
// set is loaded and are owned by the Graph.
type Definition struct {
	// Name uniquely identifies the feature across the whole rule set.
	Name string

	// UDF names the registered spec that computes this feature.
	UDF string

	// Args binds values to the UDF's parameters.
	Args []Binding

	// Required controls absence handling: when false, an absent upstream
	// dependency short-circuits this feature to absent instead of failing.
	Required bool

	// CoerceType enables best-effort conversion of resolved argument values
	// to the parameter's declared type before the UDF consumes them. Only
	// feature bindings are coerced: literal bindings carry the exact value
	// the rule set author wrote and pass through unchanged.
	CoerceType bool

	// ExecuteAsync hints that this feature's UDF should run on the worker
	// pool. Purely a scheduling hint; never affects the result.
	ExecuteAsync bool

	// Type is the declared result type, checked against bindings that
	// reference this feature.
	Type string
}

// Dependencies returns the names of all features this definition's bindings
// reference.
func (d *Definition) Dependencies() []string {
	var refs []string
	for _, b := range d.Args {
		refs = b.featureRefs(refs)
	}
	return refs
}
