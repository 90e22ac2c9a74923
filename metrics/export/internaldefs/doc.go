// Package internaldefs holds the metric names shared by the exporters.
package internaldefs
