// Package gps supplies position fixes for declination lookup.
//
// Two sources are supported:
//   - NMEA 0183 over a serial port (RMC for position and date, GGA for height)
//   - gpsd TPV/SKY JSON reports over TCP
//
// Heights are reported above the WGS-84 ellipsoid.
package gps
