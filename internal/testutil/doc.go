// Package testutil contains helper builders and scripted fakes used across
// tests to reduce boilerplate when constructing conversations, messages and
// chat streams. They are not intended for production usage.
package testutil
