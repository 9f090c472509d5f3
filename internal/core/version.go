package core

// Version 程序版本
const Version = "1.0.0"
