// Package route matches request paths against segment patterns.
//
// A route string such as "/users/<int:id>/files/<**rest>" parses into one
// Pattern per path segment. When several routes match the same path, the
// Router picks the one whose segment priorities form the lowest vector,
// compared segment by segment, so exact segments shadow wildcards no matter
// the registration order.
//
// Route grammar, one group per segment unless noted:
//
//	users            literal segment
//	<id>             any segment, captured as "id"
//	<str:name>       same as <name>
//	<int:id>         -?\d+          (also uint, decimal, uuid)
//	<||[a-z]+||:tag> free-form regex, name optional
//	<**rest>         the remaining segments (zero or more); alone in its segment, last
//	file.<int:n>.txt literal text mixed with groups becomes a regex
package route
