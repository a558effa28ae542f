package tool

// MarshalArguments zips positional args onto the descriptor's parameter
// names in declared order. Flat schemas produce {name_i: args[i]}; wrapped
// schemas nest the same mapping under the wrapper field.
func MarshalArguments(desc Descriptor, args []any) (map[string]any, error) {
	names := desc.Schema.ParamNames()
	if len(args) != len(names) {
		return nil, &ArgumentCountError{
			Tool:     desc.Name,
			Expected: len(names),
			Actual:   len(args),
		}
	}

	fields := make(map[string]any, len(names))
	for i, name := range names {
		fields[name] = args[i]
	}

	if desc.Schema.Kind == SchemaWrapped {
		field := desc.Schema.WrapperField
		if field == "" {
			field = conventionalWrapperField
		}
		return map[string]any{field: fields}, nil
	}
	return fields, nil
}
